// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ppp-gateway/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// SessionRepository defines connection history data access operations
type SessionRepository interface {
	// Session lifecycle
	Start(ctx context.Context, session *model.Session) error
	End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason string, bytesToLink, bytesFromLink uint64) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)

	// Listing and filtering
	List(ctx context.Context, filter *SessionFilter) ([]*model.Session, int, error)

	// Link errors
	RecordError(ctx context.Context, linkErr *model.LinkError) error
	ListErrors(ctx context.Context, limit int) ([]*model.LinkError, error)

	// Analytics and cleanup
	GetStats(ctx context.Context) (*SessionStats, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionFilter represents session listing filters
type SessionFilter struct {
	Device     *string    `json:"device,omitempty"`
	ActiveOnly bool       `json:"active_only"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
}

// SessionStats represents connection history statistics
type SessionStats struct {
	TotalSessions  int            `json:"total_sessions"`
	ActiveSessions int            `json:"active_sessions"`
	BytesToLink    uint64         `json:"bytes_to_link"`
	BytesFromLink  uint64         `json:"bytes_from_link"`
	ErrorsByClass  map[string]int `json:"errors_by_class"`
}
