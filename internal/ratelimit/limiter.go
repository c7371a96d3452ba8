package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies which operation a counter belongs to.
type Kind string

const (
	KindCreate  Kind = "create"  // keyed by workspace id
	KindRefresh Kind = "refresh" // keyed by client ip
)

// ErrRateLimited is the generic denial. Callers should not reveal which limit fired.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError carries Retry-After for a denial and unwraps to ErrRateLimited.
type RateLimitError struct {
	Kind       Kind
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	return ceilSeconds(e.RetryAfter)
}

// Decision is the outcome of one CheckAndIncrement call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Store increments a fixed-window counter atomically per (key, kind).
// It returns the count after increment and the time left in the window.
type Store interface {
	IncrementWindow(ctx context.Context, key string, kind Kind, window time.Duration, now time.Time) (int64, time.Duration, error)
	Ping(ctx context.Context) error
}

// Pruner is implemented by stores that keep counters until explicitly removed.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Limiter applies fixed-window limits on top of a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// NewLimiter returns a Limiter over store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// CheckAndIncrement counts one request for (key, kind) and reports whether it fits in limit
// per window. A non-positive limit disables the check without touching the store.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, kind Kind, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	if key == "" || window <= 0 {
		return Decision{}, fmt.Errorf("invalid rate window payload")
	}
	if l.store == nil {
		return Decision{}, fmt.Errorf("rate limiter store is nil")
	}
	count, resetIn, err := l.store.IncrementWindow(ctx, key, kind, window, l.now().UTC())
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: count <= int64(limit), Count: count, Limit: limit}
	if !d.Allowed {
		d.RetryAfter = resetIn
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Ping checks the backing store.
func (l *Limiter) Ping(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("rate limiter store is nil")
	}
	return l.store.Ping(ctx)
}

// Prune removes counters idle since before, when the store supports it.
func (l *Limiter) Prune(ctx context.Context, before time.Time) (int64, error) {
	p, ok := l.store.(Pruner)
	if !ok {
		return 0, nil
	}
	return p.Prune(ctx, before)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
