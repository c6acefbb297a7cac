// internal/service/connection_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/supervisor"
)

// ErrSettingsRejected wraps settings that fail validation
var ErrSettingsRejected = errors.New("connection settings rejected")

// StartRequest overrides configured connection settings for one run
type StartRequest struct {
	Device  string `json:"device,omitempty"`
	Persist *bool  `json:"persist,omitempty"`
	Holdoff *int   `json:"holdoff_seconds,omitempty"`
}

// ConnectionStatus is the state reported by the control API
type ConnectionStatus struct {
	Running    bool                 `json:"running"`
	Supervisor *supervisor.Snapshot `json:"supervisor,omitempty"`
	LastExit   *ExitStatus          `json:"last_exit,omitempty"`
}

// ExitStatus describes how the previous run ended
type ExitStatus struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ConnectionService starts and stops the supervisor on behalf of the API
type ConnectionService struct {
	baseCtx  context.Context
	launcher *supervisor.Launcher
	config   *config.Config
	logger   *zap.Logger
}

// NewConnectionService creates a connection service. Supervisors started
// through it live as long as baseCtx.
func NewConnectionService(
	baseCtx context.Context,
	launcher *supervisor.Launcher,
	config *config.Config,
	logger *zap.Logger,
) *ConnectionService {
	return &ConnectionService{
		baseCtx:  baseCtx,
		launcher: launcher,
		config:   config,
		logger:   logger.With(zap.String("component", "connection-service")),
	}
}

// Start launches a supervisor from configuration plus req
func (cs *ConnectionService) Start(req *StartRequest) (*supervisor.Snapshot, error) {
	settings, err := cs.config.Settings()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettingsRejected, err)
	}

	if req != nil {
		if req.Device != "" {
			settings.Device = req.Device
		}
		if req.Persist != nil {
			settings.Persist = *req.Persist
		}
		if req.Holdoff != nil {
			settings.Holdoff = time.Duration(*req.Holdoff) * time.Second
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettingsRejected, err)
	}

	sup, err := cs.launcher.Launch(cs.baseCtx, settings)
	if err != nil {
		return nil, err
	}

	cs.logger.Info("Connection started", zap.String("device", settings.Device))
	snap := sup.Snapshot()
	return &snap, nil
}

// Stop asks the running supervisor to hang up
func (cs *ConnectionService) Stop(reason string) error {
	if reason == "" {
		reason = "stopped by operator"
	}
	if err := cs.launcher.Terminate(reason); err != nil {
		return err
	}
	cs.logger.Info("Connection stop requested", zap.String("reason", reason))
	return nil
}

// Status reports the running supervisor, if any, and the previous exit
func (cs *ConnectionService) Status() *ConnectionStatus {
	status := &ConnectionStatus{}

	if sup := cs.launcher.Current(); sup != nil {
		snap := sup.Snapshot()
		status.Running = true
		status.Supervisor = &snap
	}

	if info := cs.launcher.LastExit(); info != nil {
		status.LastExit = &ExitStatus{Status: info.Status}
		if info.Err != nil {
			status.LastExit.Error = info.Err.Error()
		}
	}

	return status
}
