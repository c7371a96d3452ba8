package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"embedded-sessions/internal/session/domain"
)

const uniqueViolation = "23505"

const sessionColumns = `
	s.id, s.workspace_id, s.refresh_token_hash, s.refresh_token_family,
	s.access_token_hash, s.previous_access_token_hash,
	s.created_at, s.last_refreshed_at, s.expires_at, s.refresh_expires_at,
	s.revoked_at, s.revocation_reason, s.refresh_count,
	s.ip_address, s.user_agent, s.fingerprint`

// PostgresRepository persists sessions in EmbeddedSession and their lineage in
// EmbeddedSessionRefreshToken.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO embedded_sessions (
				id, workspace_id, refresh_token_hash, refresh_token_family,
				access_token_hash, previous_access_token_hash,
				created_at, last_refreshed_at, expires_at, refresh_expires_at,
				revoked_at, revocation_reason, refresh_count,
				ip_address, user_agent, fingerprint
			) VALUES (
				$1, $2, $3, $4,
				$5, '',
				$6, NULL, $7, $8,
				NULL, NULL, $9,
				$10, $11, $12
			)
		`, s.ID, s.WorkspaceID, s.RefreshTokenHash, s.RefreshTokenFamily,
			s.AccessTokenHash,
			s.CreatedAt, s.ExpiresAt, s.RefreshExpiresAt,
			s.RefreshCount,
			s.IPAddress, s.UserAgent, s.Fingerprint)
		if err != nil {
			return err
		}
		return insertLineageTx(ctx, tx, s.RefreshTokenHash, s.ID, s.RefreshTokenFamily, s.RefreshCount, s.CreatedAt)
	})
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByRefreshTokenHash(ctx context.Context, hash string) (*domain.Lookup, error) {
	var tok domain.RefreshToken
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`,
			t.token_hash, t.session_id, t.refresh_token_family, t.generation, t.issued_at, t.consumed_at
		FROM embedded_session_refresh_tokens t
		JOIN embedded_sessions s ON s.id = t.session_id
		WHERE t.token_hash = $1
	`, hash)
	s, err := scanSession(row, &tok.TokenHash, &tok.SessionID, &tok.Family, &tok.Generation, &tok.IssuedAt, &tok.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session by refresh hash: %w", err)
	}
	return &domain.Lookup{Session: s, Token: &tok, Current: s.RefreshTokenHash == hash}, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM embedded_sessions s WHERE s.id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// Rotate runs the conditional update and lineage bookkeeping in one transaction.
// Of concurrent callers presenting the same old hash, exactly one matches the WHERE clause.
func (r *PostgresRepository) Rotate(ctx context.Context, p RotateParams) (*domain.Session, error) {
	var out *domain.Session
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE embedded_sessions s
			SET
				previous_access_token_hash = s.access_token_hash,
				access_token_hash = $4,
				refresh_token_hash = $3,
				refresh_count = s.refresh_count + 1,
				last_refreshed_at = $5,
				expires_at = $6
			WHERE s.id = $1
			  AND s.refresh_token_hash = $2
			  AND s.revoked_at IS NULL
			  AND s.refresh_expires_at > $5
			RETURNING `+sessionColumns,
			p.SessionID, p.OldRefreshHash, p.NewRefreshHash, p.NewAccessHash, p.Now, p.AccessExpiresAt)
		s, err := scanSession(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleRefreshToken
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE embedded_session_refresh_tokens
			SET consumed_at = COALESCE(consumed_at, $2)
			WHERE token_hash = $1
		`, p.OldRefreshHash, p.Now); err != nil {
			return err
		}
		if err := insertLineageTx(ctx, tx, p.NewRefreshHash, s.ID, s.RefreshTokenFamily, s.RefreshCount, p.Now); err != nil {
			return err
		}
		out = s
		return nil
	})
	switch {
	case errors.Is(err, ErrStaleRefreshToken):
		return nil, err
	case isUniqueViolation(err):
		return nil, ErrDuplicateSession
	case err != nil:
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, now time.Time) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE embedded_sessions s
		SET revoked_at = COALESCE(s.revoked_at, $2),
		    revocation_reason = COALESCE(s.revocation_reason, $3)
		WHERE s.id = $1
		RETURNING `+sessionColumns, id, now, reason)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) RevokeFamily(ctx context.Context, family, reason string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE embedded_sessions
		SET revoked_at = $2, revocation_reason = $3
		WHERE refresh_token_family = $1 AND revoked_at IS NULL
	`, family, now, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke session family: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, workspaceID string, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM embedded_sessions
		WHERE workspace_id = $1 AND revoked_at IS NULL AND refresh_expires_at > $2
	`, workspaceID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE embedded_sessions s
		SET revoked_at = $1, revocation_reason = $2
		WHERE s.id IN (
			SELECT id FROM embedded_sessions
			WHERE revoked_at IS NULL AND refresh_expires_at <= $1
			ORDER BY refresh_expires_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+sessionColumns, now, domain.ReasonExpired, limit)
	if err != nil {
		return nil, fmt.Errorf("expire stale sessions: %w", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire stale sessions: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertLineageTx(ctx context.Context, tx pgx.Tx, hash, sessionID, family string, generation int, issuedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO embedded_session_refresh_tokens (
			token_hash, session_id, refresh_token_family, generation, issued_at, consumed_at
		) VALUES ($1, $2, $3, $4, $5, NULL)
	`, hash, sessionID, family, generation, issuedAt)
	return err
}

// scanSession scans sessionColumns followed by any extra destinations.
func scanSession(row pgx.Row, extra ...any) (*domain.Session, error) {
	var (
		s      domain.Session
		reason *string
	)
	dest := []any{
		&s.ID, &s.WorkspaceID, &s.RefreshTokenHash, &s.RefreshTokenFamily,
		&s.AccessTokenHash, &s.PreviousAccessTokenHash,
		&s.CreatedAt, &s.LastRefreshedAt, &s.ExpiresAt, &s.RefreshExpiresAt,
		&s.RevokedAt, &reason, &s.RefreshCount,
		&s.IPAddress, &s.UserAgent, &s.Fingerprint,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if reason != nil {
		s.RevocationReason = *reason
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
