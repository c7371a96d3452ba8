package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"embedded-sessions/internal/audit/domain"
	auditrepo "embedded-sessions/internal/audit/repository"
)

// failingRepo returns createErr from Create and counts calls.
type failingRepo struct {
	mu        sync.Mutex
	calls     int
	createErr error
	block     chan struct{}
}

func (f *failingRepo) Create(ctx context.Context, e *domain.Entry) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.createErr
}

func (f *failingRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Entry, error) {
	return nil, nil
}

func (f *failingRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func TestRecorder_Record_Success(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	fixed := time.Date(2025, 2, 2, 2, 2, 2, 0, time.UTC)
	r := NewRecorder(repo).WithClock(func() time.Time { return fixed })

	r.Record(context.Background(), domain.Entry{
		SessionID:   "s1",
		WorkspaceID: "ws1",
		Action:      domain.ActionCreate,
		IPAddress:   "10.0.0.1",
		UserAgent:   "ua",
		Success:     true,
	})
	r.Wait()

	entries := repo.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Error("entry ID should be set")
	}
	if !e.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, fixed)
	}
	if e.Action != domain.ActionCreate || !e.Success || e.IPAddress != "10.0.0.1" {
		t.Errorf("entry = %+v", e)
	}
}

func TestRecorder_Record_UnknownWorkspace(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	r := NewRecorder(repo)
	r.Record(context.Background(), domain.Entry{Action: domain.ActionRefresh, FailureReason: domain.FailureTokenNotFound})
	r.Wait()

	entries := repo.All()
	if len(entries) != 1 || entries[0].WorkspaceID != UnknownWorkspaceID {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRecorder_Record_FailureDoesNotPropagate(t *testing.T) {
	repo := &failingRepo{createErr: errors.New("db down")}
	var (
		mu     sync.Mutex
		sinked int
	)
	sink := SinkFunc(func(ctx context.Context, e *domain.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		sinked++
		return nil
	})
	r := NewRecorder(repo, sink)

	r.Record(context.Background(), domain.Entry{Action: domain.ActionRevoke})
	r.Wait()

	if repo.calls != 1 {
		t.Errorf("repo calls = %d, want 1", repo.calls)
	}
	if sinked != 1 {
		t.Errorf("sink still receives entry after repo failure, got %d", sinked)
	}
}

func TestRecorder_Record_DoesNotBlockCaller(t *testing.T) {
	repo := &failingRepo{block: make(chan struct{})}
	r := NewRecorder(repo).WithTimeout(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Record(ctx, domain.Entry{Action: domain.ActionCreate})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Record blocked on a slow repository")
	}
	cancel()
	close(repo.block)
	r.Wait()
	if repo.calls != 1 {
		t.Errorf("write aborted by request cancellation: calls = %d", repo.calls)
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), domain.Entry{Action: domain.ActionCreate})
	r.Wait()

	empty := NewRecorder(nil, nil)
	empty.Record(context.Background(), domain.Entry{Action: domain.ActionCreate})
	empty.Wait()
}
