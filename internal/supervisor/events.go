// internal/supervisor/events.go
package supervisor

import (
	"encoding/json"
	"time"

	"ppp-gateway/internal/serial"
	"ppp-gateway/internal/tunnel"
)

// State is the connection state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// EventType identifies supervisor events
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventLinkError    EventType = "link_error"
	EventChatFailed   EventType = "chat_failed"
	EventModemReset   EventType = "modem_reset"
	EventShutdown     EventType = "shutdown_requested"
)

// Event is emitted on every transition and failure
type Event struct {
	Type       EventType `json:"type"`
	State      State     `json:"state"`
	SessionID  string    `json:"session_id,omitempty"`
	Device     string    `json:"device"`
	Interface  string    `json:"interface,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// Traffic totals, set on EventDisconnected
	BytesToLink   uint64 `json:"bytes_to_link,omitempty"`
	BytesFromLink uint64 `json:"bytes_from_link,omitempty"`
}

// EventSink receives supervisor events. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(event Event) { f(event) }

// ModemResetter power-cycles or resets the modem behind device
type ModemResetter interface {
	ResetModem(device string) error
}

// Snapshot is a point-in-time view of the supervisor
type Snapshot struct {
	State          State     `json:"state"`
	Device         string    `json:"device"`
	Interface      string    `json:"interface,omitempty"`
	Engine         string    `json:"engine"`
	Persist        bool      `json:"persist"`
	SessionID      string    `json:"session_id,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	LastChatError  string    `json:"last_chat_error,omitempty"`

	Reconnects      uint64 `json:"reconnects"`
	ChatFailures    uint64 `json:"chat_failures"`
	ModemResets     uint64 `json:"modem_resets"`
	PacketsToLink   uint64 `json:"packets_to_link"`
	PacketsFromLink uint64 `json:"packets_from_link"`
	BytesToLink     uint64 `json:"bytes_to_link"`
	BytesFromLink   uint64 `json:"bytes_from_link"`

	// device counters for the current run
	Serial serial.Stats `json:"serial"`
	Tunnel tunnel.Stats `json:"tunnel"`
}
