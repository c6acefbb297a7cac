// internal/tunnel/tunnel.go
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ppp-gateway/internal/ppp"
)

// DefaultNameTemplate lets the kernel pick the next free pppN name
const DefaultNameTemplate = "ppp%d"

var (
	// ErrDeviceUnavailable is returned when the tunnel cannot be created
	ErrDeviceUnavailable = errors.New("tunnel device unavailable")
	// ErrClosed is returned once the device is closed or its reader failed
	ErrClosed = errors.New("tunnel closed")
)

// Stats holds traffic counters for the device
type Stats struct {
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
}

// DownFunc marks the named interface administratively down
type DownFunc func(name string) error

// Device is a point-to-point TUN interface. A reader goroutine hands each
// outbound packet over an unbuffered channel, so at most one packet is held
// between the kernel and the caller.
type Device struct {
	name   string
	rw     io.ReadWriteCloser
	down   DownFunc
	logger *zap.Logger

	packets chan *ppp.Packet
	done    chan struct{}
	failed  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	readErr   error

	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
}

// NewDevice wraps an open tunnel file and starts its reader
func NewDevice(name string, rw io.ReadWriteCloser, down DownFunc, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Device{
		name:    name,
		rw:      rw,
		down:    down,
		logger:  logger.With(zap.String("interface", name)),
		packets: make(chan *ppp.Packet),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// Name returns the interface name chosen by the kernel
func (d *Device) Name() string {
	return d.name
}

func (d *Device) readLoop() {
	buf := make([]byte, ppp.MaxPacketSize+4)
	for {
		n, err := d.rw.Read(buf)
		if err != nil {
			select {
			case <-d.done:
			default:
				d.logger.Error("Tunnel read failed", zap.Error(err))
			}
			d.mu.Lock()
			d.readErr = err
			d.mu.Unlock()
			close(d.failed)
			return
		}
		if n == 0 {
			continue
		}
		if n > ppp.MaxPacketSize {
			d.logger.Warn("Dropping oversized packet", zap.Int("size", n))
			continue
		}

		pkt := ppp.NewPacket(buf[:n])
		select {
		case d.packets <- pkt:
		case <-d.done:
			return
		}
	}
}

func (d *Device) closedErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return fmt.Errorf("%w: %w", ErrClosed, d.readErr)
	}
	return ErrClosed
}

// Wait blocks up to timeout for an outbound packet. It returns nil, nil when
// the timeout elapses first.
func (d *Device) Wait(timeout time.Duration) (*ppp.Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pkt := <-d.packets:
		d.received(pkt)
		return pkt, nil
	case <-timer.C:
		return nil, nil
	case <-d.failed:
		return nil, d.closedErr()
	case <-d.done:
		return nil, ErrClosed
	}
}

// TryRead returns a pending outbound packet or nil without blocking
func (d *Device) TryRead() *ppp.Packet {
	select {
	case pkt := <-d.packets:
		d.received(pkt)
		return pkt
	default:
		return nil
	}
}

// received counts a packet handed to the caller
func (d *Device) received(pkt *ppp.Packet) {
	d.packetsOut.Add(1)
	d.bytesOut.Add(uint64(pkt.Len()))
}

// Write delivers an inbound packet to the kernel
func (d *Device) Write(pkt *ppp.Packet) error {
	if pkt.Len() == 0 {
		return nil
	}
	n, err := d.rw.Write(pkt.Data)
	if err != nil {
		return fmt.Errorf("failed to write to tunnel: %w", err)
	}
	d.packetsIn.Add(1)
	d.bytesIn.Add(uint64(n))
	return nil
}

// Down marks the interface administratively down
func (d *Device) Down() error {
	if d.down == nil {
		return nil
	}
	if err := d.down(d.name); err != nil {
		return fmt.Errorf("failed to bring %s down: %w", d.name, err)
	}
	return nil
}

// Stats returns the traffic counters
func (d *Device) Stats() Stats {
	return Stats{
		PacketsIn:  d.packetsIn.Load(),
		PacketsOut: d.packetsOut.Load(),
		BytesIn:    d.bytesIn.Load(),
		BytesOut:   d.bytesOut.Load(),
	}
}

// Close stops the reader and closes the tunnel file
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.rw.Close()
		d.logger.Info("Tunnel closed")
	})
	return err
}
