// internal/ppp/sim.go
package ppp

import (
	"sync"

	"go.uber.org/zap"
)

// SimEngineName is the registry name of the simulated engine
const SimEngineName = "sim"

// maxRecordedPackets bounds the packets kept for inspection
const maxRecordedPackets = 1024

// SimTick scripts the outcome of one Poll call
type SimTick struct {
	Status  Status
	Inbound *Packet
}

// SimEngine is a scriptable Engine used for bench runs and tests. Each Poll
// consumes one scripted tick; once the script is exhausted the link stays up
// with no errors and no inbound traffic.
type SimEngine struct {
	mu     sync.Mutex
	logger *zap.Logger

	io     ByteIO
	creds  Credentials
	script []SimTick
	status Status

	inits       int
	connects    int
	polls       int
	disconnects []uint8
	sent        []*Packet
	sentTotal   int
	sendErr     error
}

// NewSimEngine creates a simulated engine with an empty script
func NewSimEngine(logger *zap.Logger) *SimEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimEngine{logger: logger}
}

// Script appends ticks to be returned by subsequent Poll calls
func (e *SimEngine) Script(ticks ...SimTick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = append(e.script, ticks...)
}

// FailSends makes every following Send return err
func (e *SimEngine) FailSends(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErr = err
}

// Init implements Engine
func (e *SimEngine) Init(io ByteIO, creds Credentials) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.io = io
	e.creds = creds
	e.status = Status{}
	e.inits++
	e.logger.Debug("Engine initialized", zap.Bool("pap", creds.Enabled()))
}

// Connect implements Engine
func (e *SimEngine) Connect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connects++
	e.status.IPCPUp = true
}

// Poll implements Engine
func (e *SimEngine) Poll() *Packet {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.polls++
	if len(e.script) == 0 {
		return nil
	}
	tick := e.script[0]
	e.script = e.script[1:]
	e.status = tick.Status
	if !tick.Status.LinkFailed() {
		e.status.IPCPUp = true
	}
	return tick.Inbound
}

// Send implements Engine
func (e *SimEngine) Send(pkt *Packet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sendErr != nil {
		return e.sendErr
	}
	e.sentTotal++
	if len(e.sent) < maxRecordedPackets {
		e.sent = append(e.sent, NewPacket(pkt.Data))
	}
	return nil
}

// Disconnect implements Engine
func (e *SimEngine) Disconnect(id uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnects = append(e.disconnects, id)
	e.status.IPCPUp = false
}

// Status implements Engine
func (e *SimEngine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Inits returns how many times Init was called
func (e *SimEngine) Inits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits
}

// Connects returns how many times Connect was called
func (e *SimEngine) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

// Polls returns how many times Poll was called
func (e *SimEngine) Polls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.polls
}

// Disconnects returns the transaction ids passed to Disconnect, in order
func (e *SimEngine) Disconnects() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint8, len(e.disconnects))
	copy(out, e.disconnects)
	return out
}

// Sent returns copies of the recorded packets passed to Send, in order
func (e *SimEngine) Sent() []*Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Packet, len(e.sent))
	copy(out, e.sent)
	return out
}

// SentTotal returns how many packets were accepted by Send
func (e *SimEngine) SentTotal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sentTotal
}

// Credentials returns the credentials passed to the last Init
func (e *SimEngine) Credentials() Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds
}
