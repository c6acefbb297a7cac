package modemreset

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	_, err := New(nil, 0, nil)
	assert.ErrorIs(t, err, ErrNoCommand)
	_, err = New([]string{""}, 0, nil)
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestResetSubstitutesDevice(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "reset.txt")

	e, err := New([]string{"/bin/sh", "-c", "echo \"$1\" > " + out, "reset", "{device}"}, time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, e.ResetModem("/dev/ttyUSB3"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3\n", string(data))
}

func TestResetFailure(t *testing.T) {
	requireShell(t)
	e, err := New([]string{"/bin/sh", "-c", "exit 3"}, time.Second, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, e.ResetModem("/dev/ttyUSB0"), "modem reset failed")
}

func TestResetTimeout(t *testing.T) {
	requireShell(t)
	e, err := New([]string{"/bin/sh", "-c", "sleep 5"}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, e.ResetModem("/dev/ttyUSB0"), "timed out")
}
