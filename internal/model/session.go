// internal/model/session.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is one connection that reached the run loop
type Session struct {
	ID            uuid.UUID  `json:"id"`
	Device        string     `json:"device"`
	Interface     string     `json:"interface"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
	BytesToLink   uint64     `json:"bytes_to_link"`
	BytesFromLink uint64     `json:"bytes_from_link"`
}

// Active reports whether the session has not ended yet
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Duration returns the session length, up to now for active sessions
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// LinkError records one classified link failure
type LinkError struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Device     string    `json:"device"`
	ErrorClass string    `json:"error_class"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
