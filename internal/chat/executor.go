// internal/chat/executor.go
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ppp-gateway/internal/serial"
)

// DefaultTimeout applies to expects until a TIMEOUT directive overrides it
const DefaultTimeout = 30 * time.Second

// Terminator is appended to every send unless the token ends with \c
const Terminator = "\r\n"

// readSlice bounds a single channel read so the deadline is rechecked often
const readSlice = 100 * time.Millisecond

var (
	// ErrTimeout is returned when an expect was not seen in time
	ErrTimeout = errors.New("chat timeout")
	// ErrAborted is returned when an abort pattern was received
	ErrAborted = errors.New("chat aborted")
)

// Channel is the byte channel a script runs over
type Channel interface {
	ReadOne(timeout time.Duration) (byte, error)
	WriteOne(b byte) error
}

// Clock supplies the current time for expect deadlines
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures an Executor
type Options struct {
	// Timeout replaces DefaultTimeout when positive
	Timeout time.Duration
	// Echo logs every received byte
	Echo bool
	// Verbose logs each step
	Verbose bool
	Clock   Clock
}

// Executor runs chat scripts over a channel
type Executor struct {
	ch      Channel
	logger  *zap.Logger
	timeout time.Duration
	echo    bool
	verbose bool
	clock   Clock
}

// NewExecutor creates an executor bound to ch
func NewExecutor(ch Channel, logger *zap.Logger, opts Options) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		ch:      ch,
		logger:  logger,
		timeout: DefaultTimeout,
		echo:    opts.Echo,
		verbose: opts.Verbose,
		clock:   opts.Clock,
	}
	if opts.Timeout > 0 {
		e.timeout = opts.Timeout
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	return e
}

// Run executes script step by step. It returns nil when every expect was
// matched and every send was written.
func (e *Executor) Run(script *Script) error {
	for i, step := range script.Steps {
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = e.timeout
		}

		if e.verbose {
			e.logger.Info("Chat expect",
				zap.Int("step", i),
				zap.String("expect", step.Expect),
				zap.Duration("timeout", timeout),
			)
		}

		if err := e.expect(step.Expect, script.ActiveAborts(i), timeout); err != nil {
			e.logger.Warn("Chat step failed",
				zap.Int("step", i),
				zap.String("expect", step.Expect),
				zap.Error(err),
			)
			return err
		}

		if !step.HasSend {
			continue
		}

		if e.verbose {
			e.logger.Info("Chat send", zap.Int("step", i), zap.String("send", step.Send))
		}

		out := step.Send
		if !step.NoTerminator {
			out += Terminator
		}
		if err := e.send(out); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) send(s string) error {
	for i := 0; i < len(s); i++ {
		if err := e.ch.WriteOne(s[i]); err != nil {
			return fmt.Errorf("chat send: %w", err)
		}
	}
	return nil
}

// expect reads until pattern is a suffix of the received stream. Abort
// patterns are checked first on every byte.
func (e *Executor) expect(pattern string, aborts []string, timeout time.Duration) error {
	if pattern == "" {
		return nil
	}

	keep := len(pattern)
	for _, a := range aborts {
		if len(a) > keep {
			keep = len(a)
		}
	}

	deadline := e.clock.Now().Add(timeout)
	buf := make([]byte, 0, 2*keep)

	for {
		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return fmt.Errorf("%w: waiting for %q", ErrTimeout, pattern)
		}
		if remaining > readSlice {
			remaining = readSlice
		}

		b, err := e.ch.ReadOne(remaining)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return fmt.Errorf("chat receive: %w", err)
		}

		if e.echo {
			e.logger.Debug("Chat received", zap.String("byte", string(rune(b))))
		}

		if len(buf) == cap(buf) {
			buf = append(buf[:0], buf[len(buf)-keep+1:]...)
		}
		buf = append(buf, b)
		received := string(buf)

		for _, a := range aborts {
			if strings.HasSuffix(received, a) {
				return fmt.Errorf("%w: %q", ErrAborted, a)
			}
		}
		if strings.HasSuffix(received, pattern) {
			return nil
		}
	}
}
