package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"embedded-sessions/internal/audit"
	auditdomain "embedded-sessions/internal/audit/domain"
	auditrepo "embedded-sessions/internal/audit/repository"
	"embedded-sessions/internal/policy/engine"
	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/session/repository"
	"embedded-sessions/internal/writekey"
)

const testSecret = "service-test-secret-0123456789abcdef"

// clock is a settable time source shared by the service, codec and limiter.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc      *Service
	sessions repository.Repository
	mem      *repository.MemoryRepository
	auditLog *auditrepo.MemoryRepository
	recorder *audit.Recorder
	keys     *writekey.Authorizer
	tokens   *security.TokenCodec
	clock    *clock
	// auth is the Authorization header for a write key of workspace ws1.
	auth string
}

type harnessOption func(*harnessOpts)

type harnessOpts struct {
	cfg      Config
	policy   string
	secret   string
	wrapRepo func(repository.Repository) repository.Repository
}

func withConfig(fn func(*Config)) harnessOption {
	return func(o *harnessOpts) { fn(&o.cfg) }
}

func withPolicy(rego string) harnessOption {
	return func(o *harnessOpts) { o.policy = rego }
}

func withSecret(secret string) harnessOption {
	return func(o *harnessOpts) { o.secret = secret }
}

func withRepo(wrap func(repository.Repository) repository.Repository) harnessOption {
	return func(o *harnessOpts) { o.wrapRepo = wrap }
}

func defaultConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		MaxSessions:   1000,
		CreateLimit:   30,
		CreateWindow:  time.Minute,
		RefreshLimit:  60,
		RefreshWindow: time.Minute,
		StoreTimeout:  time.Second,
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	o := harnessOpts{cfg: defaultConfig(), secret: testSecret}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	mem := repository.NewMemoryRepository()
	var sessions repository.Repository = mem
	if o.wrapRepo != nil {
		sessions = o.wrapRepo(mem)
	}
	auditLog := auditrepo.NewMemoryRepository()
	recorder := audit.NewRecorder(auditLog)
	keys := writekey.NewAuthorizer(writekey.NewMemoryRepository(), security.NewSecretHasher(bcrypt.MinCost))
	_, cred, err := keys.Issue(ctx, "ws1", "test host")
	if err != nil {
		t.Fatalf("issue write key: %v", err)
	}
	policy, err := engine.NewOPAEvaluator(ctx, o.policy)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore()).WithClock(clk.Now)
	tokens := security.NewTokenCodec([]byte(o.secret), "test-issuer", "test-audience", o.cfg.AccessTTL).WithClock(clk.Now)

	svc := New(sessions, limiter, keys, policy, recorder, tokens, o.cfg).WithClock(clk.Now)
	t.Cleanup(recorder.Wait)
	return &harness{
		svc:      svc,
		sessions: sessions,
		mem:      mem,
		auditLog: auditLog,
		recorder: recorder,
		keys:     keys,
		tokens:   tokens,
		clock:    clk,
		auth:     "Bearer " + cred,
	}
}

func (h *harness) create(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := h.svc.Create(context.Background(), CreateInput{
		Authorization: h.auth,
		WorkspaceID:   "ws1",
		Meta:          ClientMeta{IPAddress: "203.0.113.7", UserAgent: "test-agent"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return pair
}

func (h *harness) refresh(token string) (*TokenPair, error) {
	return h.svc.Refresh(context.Background(), token, ClientMeta{IPAddress: "203.0.113.7"})
}

// auditEntries drains pending writes and returns entries with the given action.
func (h *harness) auditEntries(action auditdomain.Action) []*auditdomain.Entry {
	h.recorder.Wait()
	var out []*auditdomain.Entry
	for _, e := range h.auditLog.All() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
