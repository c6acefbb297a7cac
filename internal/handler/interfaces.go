// internal/handler/interfaces.go
package handler

import (
	"context"

	"github.com/google/uuid"

	"ppp-gateway/internal/model"
	"ppp-gateway/internal/repository"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/supervisor"
)

// ConnectionController starts, stops and reports the supervisor
type ConnectionController interface {
	Start(req *service.StartRequest) (*supervisor.Snapshot, error)
	Stop(reason string) error
	Status() *service.ConnectionStatus
}

// HistoryReader serves stored connection history
type HistoryReader interface {
	ListSessions(ctx context.Context, filter *repository.SessionFilter) ([]*model.Session, int, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	RecentErrors(ctx context.Context, limit int) ([]*model.LinkError, error)
	Stats(ctx context.Context) (*repository.SessionStats, error)
}

// StreamStats reports event stream subscribers
type StreamStats interface {
	GetConnectionStats() *ConnectionStats
}
