//go:build linux

package serial

import (
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// openPTY returns the master side and the slave path of a new pseudo terminal
func openPTY(t *testing.T) (*os.File, string) {
	t.Helper()
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		t.Skipf("pseudo terminals unavailable: %v", err)
	}
	t.Cleanup(func() { master.Close() })

	fd := int(master.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		t.Skipf("failed to unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		t.Skipf("failed to get pty number: %v", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestChannelWriteBoundedWhenPeerStopsReading(t *testing.T) {
	_, slave := openPTY(t)
	ch, err := Open(slave, DefaultBaudRate, zap.NewNop())
	if err != nil {
		t.Skipf("failed to open pty slave: %v", err)
	}
	defer ch.Close()

	// nobody reads the master side, so the output queue fills up
	deadline := time.Now().Add(30 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = ch.WriteOne('x')
	}
	require.ErrorIs(t, err, ErrTimeout)
	assert.Greater(t, ch.Stats().BytesWritten, uint64(0))

	start := time.Now()
	assert.ErrorIs(t, ch.WriteOne('x'), ErrTimeout)
	assert.Less(t, time.Since(start), 3*WriteRetryWait)
}
