package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"embedded-sessions/internal/session/domain"
)

// MemoryRepository is an in-process Repository. Rotation is serialized by the mutex,
// which gives the same single-winner guarantee as the conditional update in Postgres.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	lineage  map[string]*domain.RefreshToken // every issued refresh hash
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*domain.Session),
		lineage:  make(map[string]*domain.RefreshToken),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lineage[s.RefreshTokenHash]; ok {
		return ErrDuplicateSession
	}
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicateSession
	}
	r.sessions[s.ID] = s.Clone()
	r.lineage[s.RefreshTokenHash] = &domain.RefreshToken{
		TokenHash:  s.RefreshTokenHash,
		SessionID:  s.ID,
		Family:     s.RefreshTokenFamily,
		Generation: s.RefreshCount,
		IssuedAt:   s.CreatedAt,
	}
	return nil
}

func (r *MemoryRepository) FindByRefreshTokenHash(ctx context.Context, hash string) (*domain.Lookup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.lineage[hash]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := r.sessions[tok.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	t := *tok
	return &domain.Lookup{
		Session: s.Clone(),
		Token:   &t,
		Current: s.RefreshTokenHash == hash,
	}, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, p RotateParams) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[p.SessionID]
	if !ok || s.RefreshTokenHash != p.OldRefreshHash || s.RevokedAt != nil || !p.Now.Before(s.RefreshExpiresAt) {
		return nil, ErrStaleRefreshToken
	}
	if _, taken := r.lineage[p.NewRefreshHash]; taken {
		return nil, ErrDuplicateSession
	}
	now := p.Now
	s.PreviousAccessTokenHash = s.AccessTokenHash
	s.AccessTokenHash = p.NewAccessHash
	s.RefreshTokenHash = p.NewRefreshHash
	s.RefreshCount++
	s.LastRefreshedAt = &now
	s.ExpiresAt = p.AccessExpiresAt

	if old, ok := r.lineage[p.OldRefreshHash]; ok {
		old.ConsumedAt = &now
	}
	r.lineage[p.NewRefreshHash] = &domain.RefreshToken{
		TokenHash:  p.NewRefreshHash,
		SessionID:  s.ID,
		Family:     s.RefreshTokenFamily,
		Generation: s.RefreshCount,
		IssuedAt:   now,
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id, reason string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	revokeLocked(s, reason, now)
	return s.Clone(), nil
}

func (r *MemoryRepository) RevokeFamily(ctx context.Context, family, reason string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.RefreshTokenFamily == family && s.RevokedAt == nil {
			revokeLocked(s, reason, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountActive(ctx context.Context, workspaceID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.WorkspaceID == workspaceID && s.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ExpireStale(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*domain.Session
	for _, s := range r.sessions {
		if s.RevokedAt == nil && !now.Before(s.RefreshExpiresAt) {
			stale = append(stale, s)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].RefreshExpiresAt.Before(stale[j].RefreshExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	out := make([]*domain.Session, len(stale))
	for i, s := range stale {
		revokeLocked(s, domain.ReasonExpired, now)
		out[i] = s.Clone()
	}
	return out, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func revokeLocked(s *domain.Session, reason string, now time.Time) {
	if s.RevokedAt != nil {
		return
	}
	t := now
	s.RevokedAt = &t
	s.RevocationReason = reason
}
