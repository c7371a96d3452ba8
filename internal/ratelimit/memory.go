package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count       int64
	windowStart time.Time
	lastRequest time.Time
}

type counterKey struct {
	key  string
	kind Kind
}

// MemoryStore keeps counters in process. Suitable for a single instance and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[counterKey]*counter)}
}

func (m *MemoryStore) IncrementWindow(ctx context.Context, key string, kind Kind, window time.Duration, now time.Time) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey{key: key, kind: kind}
	c, ok := m.counters[k]
	if !ok || !now.Before(c.windowStart.Add(window)) {
		c = &counter{windowStart: now}
		m.counters[k] = c
	}
	c.count++
	c.lastRequest = now
	return c.count, c.windowStart.Add(window).Sub(now), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.counters {
		if c.lastRequest.Before(before) {
			delete(m.counters, k)
			n++
		}
	}
	return n, nil
}
