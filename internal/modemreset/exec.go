// internal/modemreset/exec.go
package modemreset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a reset command when none is configured
const DefaultTimeout = 20 * time.Second

// ErrNoCommand is returned by New for an empty command
var ErrNoCommand = errors.New("modem reset command is empty")

// Exec resets the modem by running an external command. The placeholder
// {device} in any argument is replaced by the serial device path.
type Exec struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a reset hook for command
func New(command []string, timeout time.Duration, logger *zap.Logger) (*Exec, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrNoCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{
		command: append([]string(nil), command...),
		timeout: timeout,
		logger:  logger.With(zap.String("component", "modem_reset")),
	}, nil
}

// ResetModem runs the command and waits for it to finish
func (e *Exec) ResetModem(device string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	args := make([]string, len(e.command))
	for i, arg := range e.command {
		args[i] = strings.ReplaceAll(arg, "{device}", device)
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	// children of a killed command may keep the output pipe open
	cmd.WaitDelay = 500 * time.Millisecond

	start := time.Now()
	err := cmd.Run()
	fields := []zap.Field{
		zap.Strings("command", args),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("output", strings.TrimSpace(output.String())),
	}

	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Error("Modem reset timed out", fields...)
		return fmt.Errorf("modem reset timed out after %s", e.timeout)
	}
	if err != nil {
		e.logger.Error("Modem reset failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("modem reset failed: %w", err)
	}

	e.logger.Info("Modem reset", fields...)
	return nil
}
