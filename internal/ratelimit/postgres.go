package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps counters in EmbeddedSessionRateLimit. The upsert is atomic per (key, type).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) IncrementWindow(ctx context.Context, key string, kind Kind, window time.Duration, now time.Time) (int64, time.Duration, error) {
	var (
		count       int64
		windowStart time.Time
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO embedded_session_rate_limits (key, type, count, window_start, last_request_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (key, type) DO UPDATE SET
			count = CASE
				WHEN embedded_session_rate_limits.window_start <= $3 - make_interval(secs => $4)
				THEN 1
				ELSE embedded_session_rate_limits.count + 1
			END,
			window_start = CASE
				WHEN embedded_session_rate_limits.window_start <= $3 - make_interval(secs => $4)
				THEN $3
				ELSE embedded_session_rate_limits.window_start
			END,
			last_request_at = $3
		RETURNING count, window_start
	`, key, string(kind), now, window.Seconds()).Scan(&count, &windowStart)
	if err != nil {
		return 0, 0, fmt.Errorf("increment rate window: %w", err)
	}
	return count, windowStart.Add(window).Sub(now), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM embedded_session_rate_limits WHERE last_request_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune rate windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
