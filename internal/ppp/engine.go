// internal/ppp/engine.go
package ppp

import "errors"

// MaxPacketSize bounds a single IP packet exchanged with the engine
const MaxPacketSize = 1500

var (
	// ErrUnknownEngine is returned when no factory is registered under a name
	ErrUnknownEngine = errors.New("unknown protocol engine")
	// ErrNotConnected is returned by Send when the link is not ready for IP traffic
	ErrNotConnected = errors.New("link not connected")
)

// Packet is one IP datagram travelling between the tunnel and the link
type Packet struct {
	Data []byte
}

// NewPacket copies data into a fresh packet
func NewPacket(data []byte) *Packet {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Packet{Data: buf}
}

// Len returns the packet length in bytes
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Credentials carries optional PAP authentication parameters
type Credentials struct {
	Username string
	Password string
}

// Enabled reports whether PAP authentication was configured
func (c Credentials) Enabled() bool {
	return c.Username != ""
}

// ByteIO is the byte-level channel the engine drives the serial link through
type ByteIO interface {
	// GetChar returns the next received byte, or false when nothing is pending
	GetChar() (byte, bool)
	// PutChar transmits one byte and reports whether it was written
	PutChar(c byte) bool
	// Seconds returns a monotonic clock in whole seconds for engine timers
	Seconds() int64
}

// Status exposes the engine's LCP/PAP/IPCP flag state as explicit booleans
type Status struct {
	LCPTxTimeout     bool
	LCPRxTimeout     bool
	LCPPeerTerminate bool

	PAPTxAuthFail bool
	PAPRxAuthFail bool
	PAPTxTimeout  bool
	PAPRxTimeout  bool

	IPCPTxTimeout bool

	// IPCPUp is set once IP configuration completed and traffic can flow
	IPCPUp bool
}

// LinkFailed reports LCP timeouts or a peer-initiated termination
func (s Status) LinkFailed() bool {
	return s.LCPTxTimeout || s.LCPRxTimeout || s.LCPPeerTerminate
}

// AuthFailed reports PAP rejection or PAP timeouts
func (s Status) AuthFailed() bool {
	return s.PAPTxAuthFail || s.PAPRxAuthFail || s.PAPTxTimeout || s.PAPRxTimeout
}

// NetworkConfigFailed reports an IPCP negotiation timeout
func (s Status) NetworkConfigFailed() bool {
	return s.IPCPTxTimeout
}

// Engine is the LCP/PAP/IPCP protocol engine. Implementations own framing,
// option negotiation and retransmission; the supervisor only drives them.
type Engine interface {
	// Init resets all protocol state and binds the engine to a byte channel
	Init(io ByteIO, creds Credentials)
	// Connect starts link negotiation
	Connect()
	// Poll runs timers and byte I/O. It returns an IP packet received from the
	// link, or nil when none completed during this call.
	Poll() *Packet
	// Send queues an IP packet for transmission over the link
	Send(pkt *Packet) error
	// Disconnect sends an LCP terminate request using the given transaction id
	Disconnect(id uint8)
	// Status returns the current flag state
	Status() Status
}
