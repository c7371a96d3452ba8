// Package producer publishes audit events to a message broker.
package producer

import (
	"context"

	"embedded-sessions/internal/audit/domain"
)

// Producer publishes audit entries. It satisfies audit.Sink; the recorder logs and counts errors.
type Producer interface {
	Write(ctx context.Context, e *domain.Entry) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
