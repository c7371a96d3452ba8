package writekey

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository keeps write keys in process.
type MemoryRepository struct {
	mu   sync.Mutex
	keys map[string]*WriteKey
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{keys: make(map[string]*WriteKey)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*WriteKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *k
	return &c, nil
}

func (r *MemoryRepository) Create(ctx context.Context, k *WriteKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[k.ID]; ok {
		return fmt.Errorf("write key %s already exists", k.ID)
	}
	c := *k
	r.keys[k.ID] = &c
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return ErrNotFound
	}
	if k.RevokedAt == nil {
		t := at
		k.RevokedAt = &t
	}
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}
