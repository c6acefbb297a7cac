// internal/supervisor/launcher.go
package supervisor

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned by Launch while a supervisor is active
	ErrAlreadyRunning = errors.New("a connection supervisor is already running")
	// ErrNotRunning is returned by Terminate when nothing is running
	ErrNotRunning = errors.New("no connection supervisor is running")
)

// Launcher runs at most one supervisor at a time in the background
type Launcher struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	current *Supervisor
	done    chan struct{}
	last    error
	status  int
}

// NewLauncher creates a launcher that builds supervisors with opts
func NewLauncher(opts Options) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		opts:   opts,
		logger: logger.With(zap.String("component", "launcher")),
	}
}

// Launch starts a supervisor for settings. The supervisor stops when ctx is
// cancelled or Terminate is called.
func (l *Launcher) Launch(ctx context.Context, settings Settings) (*Supervisor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		return nil, ErrAlreadyRunning
	}

	sup, err := New(settings, l.opts)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	l.current = sup
	l.done = done

	go func() {
		err := sup.Run(ctx)
		status := ExitStatus(err)
		if err != nil {
			l.logger.Error("Supervisor exited", zap.Error(err), zap.Int("status", status))
		} else {
			l.logger.Info("Supervisor exited", zap.Int("status", status))
		}

		l.mu.Lock()
		l.current = nil
		l.last = err
		l.status = status
		l.mu.Unlock()
		close(done)
	}()

	l.logger.Info("Supervisor launched", zap.String("device", sup.Settings().Device))
	return sup, nil
}

// Running reports whether a supervisor is active
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Current returns the active supervisor or nil
func (l *Launcher) Current() *Supervisor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Terminate requests shutdown of the active supervisor
func (l *Launcher) Terminate(reason string) error {
	l.mu.Lock()
	sup := l.current
	l.mu.Unlock()

	if sup == nil {
		return ErrNotRunning
	}
	sup.Shutdown(reason)
	return nil
}

// Wait blocks until the active supervisor exits, or ctx is done, and returns
// the exit status and error of the last run
func (l *Launcher) Wait(ctx context.Context) (int, error) {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done == nil {
		return 0, ErrNotRunning
	}

	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status, l.last
}

// ExitInfo describes a finished run
type ExitInfo struct {
	Status int
	Err    error
}

// LastExit returns the result of the most recent finished run, or nil when no
// run has finished yet
func (l *Launcher) LastExit() *ExitInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == 0 {
		return nil
	}
	return &ExitInfo{Status: l.status, Err: l.last}
}
