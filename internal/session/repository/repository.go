package repository

import (
	"context"
	"errors"
	"time"

	"embedded-sessions/internal/session/domain"
)

var (
	// ErrNotFound is returned when no session (or lineage token) matches.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicateSession is returned when a refresh-token hash collides with an existing one. Retryable.
	ErrDuplicateSession = errors.New("duplicate refresh token hash")
	// ErrStaleRefreshToken is returned when the conditional rotation matched no row:
	// the presented token is no longer current or the session was revoked concurrently.
	ErrStaleRefreshToken = errors.New("refresh token no longer current")
)

// RotateParams describes one refresh-token rotation.
type RotateParams struct {
	SessionID       string
	OldRefreshHash  string
	NewRefreshHash  string
	NewAccessHash   string
	AccessExpiresAt time.Time
	Now             time.Time
}

// Repository defines persistence for embedded sessions and their refresh-token lineage.
type Repository interface {
	// Create persists s and its first lineage token. ErrDuplicateSession on hash collision.
	Create(ctx context.Context, s *domain.Session) error
	// FindByRefreshTokenHash resolves a current or already-rotated refresh-token hash.
	FindByRefreshTokenHash(ctx context.Context, hash string) (*domain.Lookup, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Rotate atomically swaps the current refresh hash. ErrStaleRefreshToken when the
	// old hash is no longer current or the session is revoked.
	Rotate(ctx context.Context, p RotateParams) (*domain.Session, error)
	// Revoke sets revoked_at once; later calls keep the first timestamp and reason.
	Revoke(ctx context.Context, id, reason string, now time.Time) (*domain.Session, error)
	// RevokeFamily revokes every unrevoked session in the family and returns how many changed.
	RevokeFamily(ctx context.Context, family, reason string, now time.Time) (int, error)
	// CountActive counts unrevoked sessions whose refresh lifetime has not passed.
	CountActive(ctx context.Context, workspaceID string, now time.Time) (int, error)
	// ExpireStale marks up to limit sessions past refresh_expires_at as revoked with reason expired.
	ExpireStale(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error)
	Ping(ctx context.Context) error
}
