// internal/service/history_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ppp-gateway/internal/model"
	"ppp-gateway/internal/repository"
	"ppp-gateway/internal/supervisor"
)

// HistoryService records supervisor events as connection history
type HistoryService struct {
	repo    repository.SessionRepository
	logger  *zap.Logger
	timeout time.Duration
}

// NewHistoryService creates a new history service instance
func NewHistoryService(repo repository.SessionRepository, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		repo:    repo,
		logger:  logger.With(zap.String("component", "history-service")),
		timeout: 5 * time.Second,
	}
}

// ErrStorageDisabled is reported when history storage is turned off
var ErrStorageDisabled = errors.New("history storage is disabled")

// HistoryEvents lists the event types Record handles
var HistoryEvents = []supervisor.EventType{
	supervisor.EventConnected,
	supervisor.EventDisconnected,
	supervisor.EventLinkError,
}

// Run records events until the channel closes or ctx is done
func (hs *HistoryService) Run(ctx context.Context, events <-chan supervisor.Event) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := hs.Record(ctx, event); err != nil {
				hs.logger.Warn("Failed to record event",
					zap.String("event_type", string(event.Type)),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Record persists a single event. Events of other types are ignored.
func (hs *HistoryService) Record(ctx context.Context, event supervisor.Event) error {
	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	switch event.Type {
	case supervisor.EventConnected:
		id, err := uuid.Parse(event.SessionID)
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		return hs.repo.Start(ctx, &model.Session{
			ID:        id,
			Device:    event.Device,
			Interface: event.Interface,
			StartedAt: event.Timestamp,
		})

	case supervisor.EventDisconnected:
		id, err := uuid.Parse(event.SessionID)
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		return hs.repo.End(ctx, id, event.Timestamp, event.Message, event.BytesToLink, event.BytesFromLink)

	case supervisor.EventLinkError:
		return hs.repo.RecordError(ctx, &model.LinkError{
			SessionID:  event.SessionID,
			Device:     event.Device,
			ErrorClass: event.ErrorClass,
			Message:    event.Message,
			OccurredAt: event.Timestamp,
		})
	}

	return nil
}

// ListSessions returns a page of sessions and the total count
func (hs *HistoryService) ListSessions(ctx context.Context, filter *repository.SessionFilter) ([]*model.Session, int, error) {
	sessions, total, err := hs.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

// GetSession returns one session
func (hs *HistoryService) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return hs.repo.GetByID(ctx, id)
}

// RecentErrors returns the latest link errors
func (hs *HistoryService) RecentErrors(ctx context.Context, limit int) ([]*model.LinkError, error) {
	return hs.repo.ListErrors(ctx, limit)
}

// Stats aggregates the stored history
func (hs *HistoryService) Stats(ctx context.Context) (*repository.SessionStats, error) {
	return hs.repo.GetStats(ctx)
}

// Prune deletes history older than retention
func (hs *HistoryService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}
	return hs.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
}
