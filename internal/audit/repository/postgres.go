package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"embedded-sessions/internal/audit/domain"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an audit repository that persists to EmbeddedSessionAudit.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts one entry. session_id is stored as NULL when unknown.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO embedded_session_audit (
			id, session_id, workspace_id, action, timestamp,
			ip_address, user_agent, success, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, nullIfEmpty(e.SessionID), e.WorkspaceID, string(e.Action), e.Timestamp,
		e.IPAddress, e.UserAgent, e.Success, nullIfEmpty(e.FailureReason))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListBySession returns the newest entries for sessionID first.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(session_id, ''), workspace_id, action, timestamp,
		       ip_address, user_agent, success, COALESCE(failure_reason, '')
		FROM embedded_session_audit
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var (
			e      domain.Entry
			action string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.WorkspaceID, &action, &e.Timestamp,
			&e.IPAddress, &e.UserAgent, &e.Success, &e.FailureReason); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.Action(action)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries older than before and returns the count.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM embedded_session_audit WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
