// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ppp-gateway/internal/database"
	"ppp-gateway/internal/model"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// sessionRepository implements SessionRepository interface
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Start records a new session
func (r *sessionRepository) Start(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (
			id, device, interface, started_at, end_reason, bytes_to_link, bytes_from_link
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		session.ID.String(), session.Device, session.Interface,
		session.StartedAt.UnixNano(), session.EndReason,
		int64(session.BytesToLink), int64(session.BytesFromLink),
	)
	if err != nil {
		r.logger.Error("Failed to record session start", zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// End closes a session with its reason and traffic totals
func (r *sessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason string, bytesToLink, bytesFromLink uint64) error {
	query := `
		UPDATE sessions SET
			ended_at = $1, end_reason = $2, bytes_to_link = $3, bytes_from_link = $4
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		endedAt.UnixNano(), reason, int64(bytesToLink), int64(bytesFromLink), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	query := `
		SELECT id, device, interface, started_at, ended_at, end_reason,
			   bytes_to_link, bytes_from_link
		FROM sessions WHERE id = $1
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, r.db.Rebind(query), id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// List retrieves sessions with filtering and pagination, newest first
func (r *sessionRepository) List(ctx context.Context, filter *SessionFilter) ([]*model.Session, int, error) {
	if filter == nil {
		filter = &SessionFilter{}
	}

	// Build WHERE clause
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Device != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("device = $%d", argIndex))
		args = append(args, *filter.Device)
		argIndex++
	}

	if filter.ActiveOnly {
		whereConditions = append(whereConditions, "ended_at IS NULL")
	}

	if filter.StartDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at >= $%d", argIndex))
		args = append(args, filter.StartDate.UnixNano())
		argIndex++
	}

	if filter.EndDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at <= $%d", argIndex))
		args = append(args, filter.EndDate.UnixNano())
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	// Count total records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sessions %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	query := fmt.Sprintf(`
		SELECT id, device, interface, started_at, ended_at, end_reason,
			   bytes_to_link, bytes_from_link
		FROM sessions %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, total, nil
}

// RecordError stores a classified link failure
func (r *sessionRepository) RecordError(ctx context.Context, linkErr *model.LinkError) error {
	query := `
		INSERT INTO link_errors (session_id, device, error_class, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		linkErr.SessionID, linkErr.Device, linkErr.ErrorClass,
		linkErr.Message, linkErr.OccurredAt.UnixNano(),
	)
	if err != nil {
		r.logger.Error("Failed to record link error", zap.Error(err))
		return fmt.Errorf("failed to record link error: %w", err)
	}

	return nil
}

// ListErrors returns the most recent link errors
func (r *sessionRepository) ListErrors(ctx context.Context, limit int) ([]*model.LinkError, error) {
	if limit < 1 || limit > maxPerPage {
		limit = defaultPerPage
	}

	query := `
		SELECT id, session_id, device, error_class, message, occurred_at
		FROM link_errors
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list link errors: %w", err)
	}
	defer rows.Close()

	var linkErrors []*model.LinkError
	for rows.Next() {
		var (
			linkErr  model.LinkError
			occurred int64
		)
		if err := rows.Scan(&linkErr.ID, &linkErr.SessionID, &linkErr.Device,
			&linkErr.ErrorClass, &linkErr.Message, &occurred); err != nil {
			return nil, fmt.Errorf("failed to scan link error: %w", err)
		}
		linkErr.OccurredAt = time.Unix(0, occurred)
		linkErrors = append(linkErrors, &linkErr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate link errors: %w", err)
	}

	return linkErrors, nil
}

// GetStats aggregates session and error history
func (r *sessionRepository) GetStats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{ErrorsByClass: make(map[string]int)}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(bytes_to_link), 0),
			   COALESCE(SUM(bytes_from_link), 0)
		FROM sessions
	`

	var toLink, fromLink int64
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalSessions, &stats.ActiveSessions, &toLink, &fromLink,
	); err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	stats.BytesToLink = uint64(toLink)
	stats.BytesFromLink = uint64(fromLink)

	rows, err := r.db.QueryContext(ctx, `SELECT error_class, COUNT(*) FROM link_errors GROUP BY error_class`)
	if err != nil {
		return nil, fmt.Errorf("failed to get error stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			class string
			count int
		)
		if err := rows.Scan(&class, &count); err != nil {
			return nil, fmt.Errorf("failed to scan error stats: %w", err)
		}
		stats.ErrorsByClass[class] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate error stats: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes ended sessions and errors before the cutoff
func (r *sessionRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixNano()

	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < $1`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM link_errors WHERE occurred_at < $1`), cutoff); err != nil {
		return deleted, fmt.Errorf("failed to delete old link errors: %w", err)
	}

	r.logger.Info("Old sessions deleted", zap.Int64("count", deleted))
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		session          model.Session
		id               string
		started          int64
		ended            sql.NullInt64
		toLink, fromLink int64
	)

	if err := row.Scan(&id, &session.Device, &session.Interface, &started, &ended,
		&session.EndReason, &toLink, &fromLink); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}

	session.ID = parsed
	session.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		session.EndedAt = &t
	}
	session.BytesToLink = uint64(toLink)
	session.BytesFromLink = uint64(fromLink)

	return &session, nil
}
