package main

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ppp-gateway/internal/chat"
	"ppp-gateway/internal/config"
	"ppp-gateway/internal/supervisor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pppd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExecuteHelpExitsZero(t *testing.T) {
	assert.Equal(t, 0, execute([]string{"--help"}))
}

func TestExecuteUnknownCommand(t *testing.T) {
	assert.Equal(t, supervisor.ExitDeviceFailure, execute([]string{"dial"}))
}

func TestExecuteBadConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	assert.Equal(t, supervisor.ExitDeviceFailure, execute([]string{"-c", missing, "run"}))
}

func TestRunMissingDeviceExitsWithDeviceFailure(t *testing.T) {
	path := writeConfig(t, `
connection:
  persist: false
database:
  driver: none
logging:
  output: stderr
  level: error
`)
	device := filepath.Join(t.TempDir(), "ttyUSB9")
	status := execute([]string{"-c", path, "run", "--device", device})
	assert.Equal(t, supervisor.ExitDeviceFailure, status)
}

func TestSignalBeforeLaunchSkipsSupervisor(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
database:
  driver: none
`))
	require.NoError(t, err)
	cfg.Connection.Device = filepath.Join(t.TempDir(), "ttyUSB9")
	settings, err := cfg.Settings()
	require.NoError(t, err)

	app, err := NewApplication(cfg, zap.NewNop(), false)
	require.NoError(t, err)
	defer app.shutdown()

	stopSignals := app.handleSignals()
	defer stopSignals()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	require.Eventually(t, app.interrupted.Load, 2*time.Second, 10*time.Millisecond)

	launched, err := app.launch(settings)
	require.NoError(t, err)
	assert.False(t, launched)
	assert.False(t, app.launcher.Running())
	assert.Nil(t, app.launcher.LastExit())
}

func TestRunCommandOverrides(t *testing.T) {
	holdoff := 12
	cmd := &runCommand{Device: "/dev/ttyACM1", NoPersist: true, Holdoff: &holdoff}
	cfg := &config.Config{Connection: config.ConnectionConfig{Device: "/dev/ttyUSB0", Persist: true}}

	require.NoError(t, cmd.apply(cfg))
	assert.Equal(t, "/dev/ttyACM1", cfg.Connection.Device)
	assert.False(t, cfg.Connection.Persist)
	assert.Equal(t, "12s", cfg.Connection.Holdoff.String())

	both := &runCommand{Persist: true, NoPersist: true}
	assert.Error(t, both.apply(cfg))
}

func TestCheckScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connect.chat")
	require.NoError(t, os.WriteFile(path, []byte(`ABORT BUSY TIMEOUT 10 "" AT OK ATD*99#\c CONNECT`), 0o600))

	var out bytes.Buffer
	cmd := &checkScriptCommand{out: &out}
	cmd.Args.File = path
	require.NoError(t, cmd.Execute(nil))

	assert.Contains(t, out.String(), "# 3 steps, 1 abort patterns")
	assert.Contains(t, out.String(), `ABORT "BUSY"`)
	assert.Contains(t, out.String(), "TIMEOUT 10")
}

func TestCheckScriptSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.chat")
	require.NoError(t, os.WriteFile(path, []byte(`TIMEOUT never OK AT`), 0o600))

	cmd := &checkScriptCommand{out: &bytes.Buffer{}}
	cmd.Args.File = path
	assert.ErrorIs(t, cmd.Execute(nil), chat.ErrSyntax)
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	path := writeConfig(t, `
database:
  driver: sqlite
  path: `+dbPath+`
logging:
  output: stderr
  level: error
`)

	assert.Equal(t, 0, execute([]string{"-c", path, "migrate"}))
	assert.FileExists(t, dbPath)
	assert.Equal(t, 0, execute([]string{"-c", path, "migrate", "--down"}))
}
