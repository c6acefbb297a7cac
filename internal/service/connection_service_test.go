package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/ppp"
	"ppp-gateway/internal/supervisor"
)

var errNoTun = errors.New("no tun support")

func newTestConnectionService(t *testing.T) (*ConnectionService, *supervisor.Launcher) {
	t.Helper()
	launcher := supervisor.NewLauncher(supervisor.Options{
		OpenTunnel: func(string, *zap.Logger) (supervisor.Tunnel, error) {
			return nil, errNoTun
		},
	})
	cfg := &config.Config{Connection: config.ConnectionConfig{
		Device: "/dev/ttyUSB0",
		Engine: ppp.SimEngineName,
	}}
	return NewConnectionService(context.Background(), launcher, cfg, zap.NewNop()), launcher
}

func TestConnectionStartReportsDeviceFailure(t *testing.T) {
	cs, launcher := newTestConnectionService(t)

	status := cs.Status()
	assert.False(t, status.Running)
	assert.Nil(t, status.LastExit)

	persist := false
	snap, err := cs.Start(&StartRequest{Device: "/dev/ttyACM1", Persist: &persist})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", snap.Device)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := launcher.Wait(ctx)
	assert.Equal(t, supervisor.ExitDeviceFailure, code)
	assert.ErrorIs(t, err, supervisor.ErrDeviceUnavailable)

	status = cs.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.LastExit)
	assert.Equal(t, supervisor.ExitDeviceFailure, status.LastExit.Status)
	assert.Contains(t, status.LastExit.Error, "no tun support")
}

func TestConnectionStartRejectsBadOverride(t *testing.T) {
	cs, _ := newTestConnectionService(t)
	holdoff := -1
	_, err := cs.Start(&StartRequest{Holdoff: &holdoff})
	assert.ErrorIs(t, err, ErrSettingsRejected)
}

func TestConnectionStopWhenIdle(t *testing.T) {
	cs, _ := newTestConnectionService(t)
	assert.ErrorIs(t, cs.Stop(""), supervisor.ErrNotRunning)
}
