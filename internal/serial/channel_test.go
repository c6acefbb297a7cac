package serial

import (
	"errors"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu        sync.Mutex
	rx        []byte
	tx        []byte
	timeouts  []time.Duration
	writeErrs []error
	readErr   error
	drainErr  error
	dtr       bool
	closed    bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.rx) == 0 {
		return 0, nil
	}
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writeErrs) > 0 {
		err := p.writeErrs[0]
		p.writeErrs = p.writeErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) SetDTR(dtr bool) error {
	p.dtr = dtr
	return nil
}

func (p *fakePort) Drain() error {
	return p.drainErr
}

func TestChannelReadOne(t *testing.T) {
	port := &fakePort{rx: []byte("OK")}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	b, err := ch.ReadOne(time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('O'), b)

	b, err = ch.ReadOne(time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('K'), b)

	_, err = ch.ReadOne(time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	// The same timeout is applied to the port only once.
	assert.Equal(t, []time.Duration{time.Second}, port.timeouts)
	assert.Equal(t, uint64(2), ch.Stats().BytesRead)
}

func TestChannelReadError(t *testing.T) {
	port := &fakePort{readErr: io.ErrUnexpectedEOF}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	_, err := ch.ReadOne(time.Second)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	port.readErr = syscall.EAGAIN
	_, err = ch.ReadOne(0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChannelWriteRetriesOnce(t *testing.T) {
	port := &fakePort{writeErrs: []error{syscall.EAGAIN, nil}}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	require.NoError(t, ch.WriteOne('A'))
	assert.Equal(t, []byte("A"), port.tx)
	assert.Equal(t, uint64(1), ch.Stats().BytesWritten)
}

func TestChannelWriteGivesUpAfterRetry(t *testing.T) {
	port := &fakePort{writeErrs: []error{syscall.EAGAIN, syscall.EAGAIN}}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	assert.ErrorIs(t, ch.WriteOne('A'), ErrTimeout)
	assert.Empty(t, port.tx)
}

func TestChannelWriteDrainFailure(t *testing.T) {
	port := &fakePort{writeErrs: []error{syscall.EAGAIN}, drainErr: errors.New("drain")}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	assert.ErrorIs(t, ch.WriteOne('A'), ErrTimeout)
}

func TestChannelWriteHardError(t *testing.T) {
	port := &fakePort{writeErrs: []error{io.ErrClosedPipe}}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	assert.ErrorIs(t, ch.WriteOne('A'), io.ErrClosedPipe)
}

func TestChannelByteIO(t *testing.T) {
	port := &fakePort{rx: []byte{0x7e}, dtr: true}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	b, ok := ch.GetChar()
	assert.True(t, ok)
	assert.Equal(t, byte(0x7e), b)
	_, ok = ch.GetChar()
	assert.False(t, ok)

	assert.True(t, ch.PutChar(0x7e))
	require.NoError(t, ch.WriteString("+++\r\n"))
	assert.Equal(t, []byte("\x7e+++\r\n"), port.tx)

	require.NoError(t, ch.ClearDTR())
	assert.False(t, port.dtr)
	assert.GreaterOrEqual(t, ch.Seconds(), int64(0))

	require.NoError(t, ch.Close())
	assert.True(t, port.closed)
}

// blockingPort holds every write until released, like a tty whose output
// queue is full
type blockingPort struct {
	fakePort
	release chan struct{}
}

func (p *blockingPort) Write(b []byte) (int, error) {
	<-p.release
	return p.fakePort.Write(b)
}

func TestChannelWriteAbandonsBlockedWrite(t *testing.T) {
	port := &blockingPort{release: make(chan struct{})}
	ch := NewChannel("/dev/ttyACM2", port, nil)

	start := time.Now()
	assert.ErrorIs(t, ch.WriteOne('A'), ErrTimeout)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, WriteRetryWait)
	assert.Less(t, elapsed, 2*WriteRetryWait)

	// the abandoned byte completes before the next one is written
	close(port.release)
	require.NoError(t, ch.WriteOne('B'))
	assert.Equal(t, []byte("AB"), port.tx)
	assert.Equal(t, uint64(2), ch.Stats().BytesWritten)

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.WriteOne('C'), ErrClosed)
}
