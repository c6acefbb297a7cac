package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/database"
	"ppp-gateway/internal/model"
)

func newTestRepository(t *testing.T) SessionRepository {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.Open(&config.DatabaseConfig{Driver: database.DriverSQLite},
		filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Up())
	return NewSessionRepository(db, logger)
}

func TestSessionLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	session := &model.Session{
		ID:        uuid.New(),
		Device:    "/dev/ttyUSB0",
		Interface: "ppp0",
		StartedAt: started,
	}
	require.NoError(t, repo.Start(ctx, session))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.Active())
	assert.Equal(t, "ppp0", got.Interface)
	assert.True(t, got.StartedAt.Equal(started))

	ended := started.Add(90 * time.Second)
	require.NoError(t, repo.End(ctx, session.ID, ended, "link_timeout", 1500, 4200))

	got, err = repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.False(t, got.Active())
	assert.Equal(t, 90*time.Second, got.Duration(time.Now()))
	assert.Equal(t, "link_timeout", got.EndReason)
	assert.Equal(t, uint64(1500), got.BytesToLink)
	assert.Equal(t, uint64(4200), got.BytesFromLink)
}

func TestSessionNotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))

	err = repo.End(ctx, uuid.New(), time.Now(), "signal", 0, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSessions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		device := "/dev/ttyUSB0"
		if i%2 == 1 {
			device = "/dev/ttyACM0"
		}
		s := &model.Session{ID: uuid.New(), Device: device, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.Start(ctx, s))
		ids = append(ids, s.ID)
	}
	require.NoError(t, repo.End(ctx, ids[0], base.Add(30*time.Minute), "reconnect", 0, 0))

	all, total, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID, "newest first")

	page, total, err := repo.List(ctx, &SessionFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)

	device := "/dev/ttyACM0"
	acm, total, err := repo.List(ctx, &SessionFilter{Device: &device})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, acm, 2)

	active, total, err := repo.List(ctx, &SessionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, active, 4)

	since := base.Add(3 * time.Hour)
	recent, total, err := repo.List(ctx, &SessionFilter{StartDate: &since})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, recent, 2)
}

func TestLinkErrorsAndStats(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	s := &model.Session{ID: uuid.New(), Device: "/dev/ttyUSB0", StartedAt: now.Add(-time.Minute)}
	require.NoError(t, repo.Start(ctx, s))
	require.NoError(t, repo.End(ctx, s.ID, now, "link_timeout", 100, 200))
	require.NoError(t, repo.Start(ctx, &model.Session{ID: uuid.New(), Device: "/dev/ttyUSB0", StartedAt: now}))

	for i, class := range []string{"link_timeout", "auth_failure", "link_timeout"} {
		require.NoError(t, repo.RecordError(ctx, &model.LinkError{
			SessionID:  s.ID.String(),
			Device:     "/dev/ttyUSB0",
			ErrorClass: class,
			OccurredAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	errs, err := repo.ListErrors(ctx, 2)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "link_timeout", errs[0].ErrorClass)
	assert.Equal(t, "auth_failure", errs[1].ErrorClass)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, uint64(100), stats.BytesToLink)
	assert.Equal(t, uint64(200), stats.BytesFromLink)
	assert.Equal(t, map[string]int{"link_timeout": 2, "auth_failure": 1}, stats.ErrorsByClass)
}

func TestDeleteOlderThanKeepsActiveSessions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	ended := &model.Session{ID: uuid.New(), Device: "/dev/ttyUSB0", StartedAt: old}
	require.NoError(t, repo.Start(ctx, ended))
	require.NoError(t, repo.End(ctx, ended.ID, old.Add(time.Minute), "signal", 0, 0))

	active := &model.Session{ID: uuid.New(), Device: "/dev/ttyUSB0", StartedAt: old}
	require.NoError(t, repo.Start(ctx, active))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, active.ID)
	assert.NoError(t, err)
}
