// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"ppp-gateway/internal/chat"
	"ppp-gateway/internal/ppp"
	"ppp-gateway/internal/serial"
	"ppp-gateway/internal/tunnel"
)

// Exit statuses returned by ExitStatus
const (
	ExitNormal        = 1
	ExitDeviceFailure = 2
)

// ErrDeviceUnavailable is returned by Run when the tunnel or serial device
// cannot be opened
var ErrDeviceUnavailable = errors.New("device unavailable")

// serialStats and tunnelStats are implemented by the real devices
type serialStats interface {
	Stats() serial.Stats
}

type tunnelStats interface {
	Stats() tunnel.Stats
}

// Tunnel is the network side of the link
type Tunnel interface {
	Name() string
	Wait(timeout time.Duration) (*ppp.Packet, error)
	TryRead() *ppp.Packet
	Write(pkt *ppp.Packet) error
	Down() error
	Close() error
}

// Modem is the serial side of the link
type Modem interface {
	chat.Channel
	ppp.ByteIO
	WriteString(s string) error
	ClearDTR() error
	Close() error
}

// TunnelOpener creates the tunnel device
type TunnelOpener func(template string, logger *zap.Logger) (Tunnel, error)

// ModemOpener opens the serial device
type ModemOpener func(device string, baudRate int, logger *zap.Logger) (Modem, error)

// Options carries the collaborators of a Supervisor. Zero values select the
// real devices, the wall clock and the default engine registry.
type Options struct {
	Logger        *zap.Logger
	Clock         Clock
	Engine        ppp.Engine
	Registry      *ppp.Registry
	ModemResetter ModemResetter
	Events        EventSink
	OpenTunnel    TunnelOpener
	OpenModem     ModemOpener
}

// connection is owned by the goroutine running Run
type connection struct {
	tun    Tunnel
	modem  Modem
	chat   *chat.Executor
	staged *ppp.Packet
	nextID uint8

	// traffic totals when the current session started
	baseToLink   uint64
	baseFromLink uint64
}

// Supervisor keeps one dial-up link alive
type Supervisor struct {
	settings   Settings
	connect    *chat.Script
	disconnect *chat.Script

	engine     ppp.Engine
	clock      Clock
	logger     *zap.Logger
	resetter   ModemResetter
	events     EventSink
	openTunnel TunnelOpener
	openModem  ModemOpener

	conn *connection

	shutdown       atomic.Bool
	shutdownReason atomic.Value
	running        atomic.Bool

	mu   sync.RWMutex
	snap Snapshot
}

// New validates settings and builds a supervisor
func New(settings Settings, opts Options) (*Supervisor, error) {
	settings = settings.withDefaults()
	connectScript, disconnectScript, err := settings.scripts()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "supervisor"), zap.String("device", settings.Device))

	engine := opts.Engine
	if engine == nil {
		registry := opts.Registry
		if registry == nil {
			registry = ppp.NewRegistry(logger)
			ppp.RegisterDefaultEngines(registry)
		}
		if engine, err = registry.Create(settings.Engine); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
	}

	s := &Supervisor{
		settings:   settings,
		connect:    connectScript,
		disconnect: disconnectScript,
		engine:     engine,
		clock:      opts.Clock,
		logger:     logger,
		resetter:   opts.ModemResetter,
		events:     opts.Events,
		openTunnel: opts.OpenTunnel,
		openModem:  opts.OpenModem,
	}
	if s.clock == nil {
		s.clock = RealClock()
	}
	if s.openTunnel == nil {
		s.openTunnel = openTunnel
	}
	if s.openModem == nil {
		s.openModem = openModem
	}

	s.snap = Snapshot{
		State:   StateDisconnected,
		Device:  settings.Device,
		Engine:  settings.Engine,
		Persist: settings.Persist,
	}
	return s, nil
}

func openTunnel(template string, logger *zap.Logger) (Tunnel, error) {
	dev, err := tunnel.Open(template, logger)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func openModem(device string, baudRate int, logger *zap.Logger) (Modem, error) {
	ch, err := serial.Open(device, baudRate, logger)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Settings returns the effective settings
func (s *Supervisor) Settings() Settings {
	return s.settings
}

// Shutdown asks the run loop to disconnect and stop. It is observed at the
// next loop iteration.
func (s *Supervisor) Shutdown(reason string) {
	if s.shutdown.CompareAndSwap(false, true) {
		s.shutdownReason.Store(reason)
		s.logger.Info("Shutdown requested", zap.String("reason", reason))
		s.emit(Event{Type: EventShutdown, Message: reason})
	}
}

func (s *Supervisor) shutdownRequested(ctx context.Context) bool {
	if s.shutdown.Load() {
		return true
	}
	if ctx.Err() != nil {
		s.Shutdown(context.Cause(ctx).Error())
		return true
	}
	return false
}

// Snapshot returns the current state and counters
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Supervisor) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

func (s *Supervisor) setState(state State) {
	var prev State
	s.update(func(snap *Snapshot) {
		prev = snap.State
		snap.State = state
	})
	if prev == state {
		return
	}
	s.logger.Info("State changed",
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
	s.emit(Event{Type: EventStateChanged, Message: prev.String() + " -> " + state.String()})
}

func (s *Supervisor) emit(event Event) {
	if s.events == nil {
		return
	}
	snap := s.Snapshot()
	event.State = snap.State
	event.Device = snap.Device
	event.Interface = snap.Interface
	if event.SessionID == "" {
		event.SessionID = snap.SessionID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	s.events.Publish(event)
}

// Run opens the devices and supervises the link until shutdown, or until the
// first failure when persistence is off. It returns nil after the final
// disconnect and ErrDeviceUnavailable when a device cannot be opened.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor is already running")
	}
	defer s.running.Store(false)

	tun, err := s.openTunnel(s.settings.InterfaceTemplate, s.logger)
	if err != nil {
		s.logger.Error("Failed to open tunnel", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer tun.Close()

	modem, err := s.openModem(s.settings.Device, s.settings.BaudRate, s.logger)
	if err != nil {
		s.logger.Error("Failed to open modem", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer modem.Close()

	s.update(func(snap *Snapshot) { snap.Interface = tun.Name() })
	s.conn = &connection{
		tun:   tun,
		modem: modem,
		chat: chat.NewExecutor(modem, s.logger.With(zap.String("component", "chat")), chat.Options{
			Timeout: s.settings.ChatTimeout,
			Echo:    s.settings.ChatEcho,
			Verbose: s.settings.ChatVerbose,
			Clock:   s.clock,
		}),
	}

	s.logger.Info("Supervisor started",
		zap.String("interface", tun.Name()),
		zap.Bool("persist", s.settings.Persist),
		zap.Duration("holdoff", s.settings.Holdoff),
	)

	s.engine.Init(modem, s.settings.Credentials)
	s.reconnect(true)

	for {
		pkt, err := tun.Wait(PollInterval)
		if err != nil {
			s.logger.Error("Tunnel failed", zap.Error(err))
			s.Shutdown("tunnel failed: " + err.Error())
		}
		if pkt != nil {
			s.submit(pkt)
		}

		if inbound := s.engine.Poll(); inbound != nil {
			s.conn.staged = inbound
		}

		s.refreshDeviceStats()
		class := Classify(s.engine.Status())
		stop := s.shutdownRequested(ctx)

		if stop || class != ErrorNone {
			if class != ErrorNone {
				s.linkFailed(class)
			}
			s.logger.Info("Connection terminated")

			if stop || !s.settings.Persist {
				s.disconnectLink()
				break
			}

			if s.settings.Holdoff > 0 {
				s.logger.Info("Waiting before reconnect", zap.Duration("holdoff", s.settings.Holdoff))
				s.clock.Sleep(s.settings.Holdoff)
			}
			s.reconnect(false)
			continue
		}

		if s.conn.staged != nil {
			s.deliver(s.conn.staged)
			s.conn.staged = nil

			if next := tun.TryRead(); next != nil {
				s.submit(next)
			}
		}
	}

	s.refreshDeviceStats()
	snap := s.Snapshot()
	s.logger.Info("Supervisor stopped",
		zap.String("sent", humanize.Bytes(snap.BytesToLink)),
		zap.String("received", humanize.Bytes(snap.BytesFromLink)),
		zap.Uint64("reconnects", snap.Reconnects),
	)
	return nil
}

// submit stages an outbound packet and hands it to the engine
func (s *Supervisor) submit(pkt *ppp.Packet) {
	s.conn.staged = pkt
	if err := s.engine.Send(s.conn.staged); err != nil {
		s.logger.Warn("Engine rejected packet", zap.Int("size", pkt.Len()), zap.Error(err))
	} else {
		s.update(func(snap *Snapshot) {
			snap.PacketsToLink++
			snap.BytesToLink += uint64(pkt.Len())
		})
	}
	s.conn.staged = nil
}

// deliver writes an inbound packet to the tunnel
func (s *Supervisor) deliver(pkt *ppp.Packet) {
	if err := s.conn.tun.Write(pkt); err != nil {
		s.logger.Warn("Failed to deliver packet to tunnel", zap.Int("size", pkt.Len()), zap.Error(err))
		return
	}
	s.update(func(snap *Snapshot) {
		snap.PacketsFromLink++
		snap.BytesFromLink += uint64(pkt.Len())
	})
}

// refreshDeviceStats copies the device counters into the snapshot
func (s *Supervisor) refreshDeviceStats() {
	var (
		ser serial.Stats
		tun tunnel.Stats
	)
	if m, ok := s.conn.modem.(serialStats); ok {
		ser = m.Stats()
	}
	if t, ok := s.conn.tun.(tunnelStats); ok {
		tun = t.Stats()
	}
	s.update(func(snap *Snapshot) {
		snap.Serial = ser
		snap.Tunnel = tun
	})
}

func (s *Supervisor) linkFailed(class ErrorClass) {
	s.logger.Warn("Link error", zap.String("class", class.String()))
	s.update(func(snap *Snapshot) { snap.LastError = class.String() })
	s.emit(Event{Type: EventLinkError, ErrorClass: class.String()})
}

// ExitStatus maps the result of Run to a process exit status
func ExitStatus(err error) int {
	if err == nil {
		return ExitNormal
	}
	return ExitDeviceFailure
}
