package repository

import (
	"context"
	"time"

	"embedded-sessions/internal/audit/domain"
)

// Repository defines persistence for embedded-session audit entries. Entries are append-only;
// DeleteBefore exists for the retention job.
type Repository interface {
	Create(ctx context.Context, e *domain.Entry) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Entry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
