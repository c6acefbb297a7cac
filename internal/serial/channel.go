// internal/serial/channel.go
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// WriteRetryWait bounds the readiness wait before a blocked write is retried
const WriteRetryWait = 1000 * time.Millisecond

// DefaultBaudRate is used when the caller does not configure one
const DefaultBaudRate = 115200

var (
	// ErrDeviceUnavailable is returned when the serial device cannot be opened
	ErrDeviceUnavailable = errors.New("serial device unavailable")
	// ErrTimeout is returned when no byte arrived or could be written in time
	ErrTimeout = errors.New("serial timeout")
	// ErrClosed is returned by writes after Close
	ErrClosed = errors.New("serial channel closed")
)

// Port is the subset of go.bug.st/serial.Port the channel depends on
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	Drain() error
}

// Stats holds byte counters for a channel
type Stats struct {
	BytesRead    uint64 `json:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written"`
}

type writeResult struct {
	n   int
	err error
}

// Channel is the modem control channel. All I/O is single-byte; chat and the
// protocol engine buffer as they need.
//
// The port is in blocking mode once opened, so writes are handed to a writer
// goroutine and waited on with a timer. A write that is abandoned stays in
// flight and the next write waits for it first.
type Channel struct {
	port   Port
	logger *zap.Logger
	opened time.Time

	mu          sync.Mutex
	readTimeout time.Duration
	timeoutSet  bool
	writes      chan byte
	results     chan writeResult
	inflight    bool
	closed      bool

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Open opens the serial device and wraps it in a Channel
func Open(path string, baudRate int, logger *zap.Logger) (*Channel, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		logger.Error("Failed to open serial port",
			zap.Error(err),
			zap.String("port", path),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, path, err)
	}

	logger.Info("Serial port opened successfully",
		zap.String("port", path),
		zap.Int("baud_rate", baudRate),
	)
	return NewChannel(path, port, logger), nil
}

// NewChannel wraps an already opened port
func NewChannel(path string, port Port, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		port:    port,
		logger:  logger.With(zap.String("port", path)),
		opened:  time.Now(),
		writes:  make(chan byte),
		results: make(chan writeResult, 1),
	}
	go c.writeLoop()
	return c
}

func (c *Channel) writeLoop() {
	var buf [1]byte
	for b := range c.writes {
		buf[0] = b
		n, err := c.port.Write(buf[:])
		if err == nil && n == 1 {
			c.bytesWritten.Add(1)
		}
		c.results <- writeResult{n: n, err: err}
	}
}

func (c *Channel) setReadTimeout(timeout time.Duration) error {
	if timeout < 0 {
		timeout = 0
	}
	if c.timeoutSet && c.readTimeout == timeout {
		return nil
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	c.readTimeout = timeout
	c.timeoutSet = true
	return nil
}

// ReadOne waits up to timeout for a single byte. It returns ErrTimeout when
// nothing arrived.
func (c *Channel) ReadOne(timeout time.Duration) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setReadTimeout(timeout); err != nil {
		return 0, err
	}

	var buf [1]byte
	n, err := c.port.Read(buf[:])
	if err != nil {
		if isWouldBlock(err) {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("failed to read from serial port: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}

	c.bytesRead.Add(1)
	return buf[0], nil
}

// WriteOne writes a single byte. A write that would block is retried once
// after waiting up to WriteRetryWait for the port to drain; a write still
// blocked after WriteRetryWait is abandoned with ErrTimeout.
func (c *Channel) WriteOne(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.inflight {
		if _, ok := c.awaitWrite(WriteRetryWait); !ok {
			return ErrTimeout
		}
	}

	res, ok := c.write(b)
	if !ok {
		return ErrTimeout
	}
	if res.err == nil && res.n == 1 {
		return nil
	}
	if res.err != nil && !isWouldBlock(res.err) {
		return fmt.Errorf("failed to write to serial port: %w", res.err)
	}

	if !c.waitWritable(WriteRetryWait) {
		return ErrTimeout
	}

	res, ok = c.write(b)
	if !ok {
		return ErrTimeout
	}
	if res.err != nil {
		if isWouldBlock(res.err) {
			return ErrTimeout
		}
		return fmt.Errorf("failed to write to serial port: %w", res.err)
	}
	if res.n != 1 {
		return ErrTimeout
	}
	return nil
}

// write hands b to the writer and waits up to WriteRetryWait. The writer is
// idle when called.
func (c *Channel) write(b byte) (writeResult, bool) {
	c.writes <- b
	c.inflight = true
	return c.awaitWrite(WriteRetryWait)
}

func (c *Channel) awaitWrite(wait time.Duration) (writeResult, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res := <-c.results:
		c.inflight = false
		return res, true
	case <-timer.C:
		return writeResult{}, false
	}
}

func (c *Channel) waitWritable(wait time.Duration) bool {
	done := make(chan error, 1)
	go func() {
		done <- c.port.Drain()
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		return err == nil
	case <-timer.C:
		return false
	}
}

// WriteString writes s byte by byte, stopping at the first failure
func (c *Channel) WriteString(s string) error {
	for i := 0; i < len(s); i++ {
		if err := c.WriteOne(s[i]); err != nil {
			return err
		}
	}
	return nil
}

// ClearDTR drops the DTR control line
func (c *Channel) ClearDTR() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.port.SetDTR(false); err != nil {
		return fmt.Errorf("failed to clear DTR: %w", err)
	}
	return nil
}

// GetChar returns a pending byte without waiting
func (c *Channel) GetChar() (byte, bool) {
	b, err := c.ReadOne(0)
	return b, err == nil
}

// PutChar writes one byte for the protocol engine
func (c *Channel) PutChar(b byte) bool {
	return c.WriteOne(b) == nil
}

// Seconds returns whole seconds since the channel was opened
func (c *Channel) Seconds() int64 {
	return int64(time.Since(c.opened) / time.Second)
}

// Stats returns the byte counters
func (c *Channel) Stats() Stats {
	return Stats{
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
	}
}

// Close stops the writer and closes the underlying port. A write still
// blocked in the kernel returns once the port is closed or hung up.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.writes)
	}
	c.mu.Unlock()

	if err := c.port.Close(); err != nil {
		c.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	c.logger.Info("Serial port closed")
	return nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
