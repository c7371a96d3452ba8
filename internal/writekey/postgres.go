package writekey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists keys in EmbeddedWriteKey.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*WriteKey, error) {
	var k WriteKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, secret_hash, name, created_at, revoked_at
		FROM embedded_write_keys
		WHERE id = $1
	`, id).Scan(&k.ID, &k.WorkspaceID, &k.SecretHash, &k.Name, &k.CreatedAt, &k.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get write key: %w", err)
	}
	return &k, nil
}

func (r *PostgresRepository) Create(ctx context.Context, k *WriteKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO embedded_write_keys (id, workspace_id, secret_hash, name, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`, k.ID, k.WorkspaceID, k.SecretHash, k.Name, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert write key: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE embedded_write_keys SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("revoke write key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
