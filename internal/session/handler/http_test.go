package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"embedded-sessions/internal/audit"
	auditrepo "embedded-sessions/internal/audit/repository"
	"embedded-sessions/internal/policy/engine"
	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/server/middleware"
	"embedded-sessions/internal/session/repository"
	"embedded-sessions/internal/session/service"
	"embedded-sessions/internal/writekey"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeService returns canned results and records the last inputs.
type fakeService struct {
	pair       *service.TokenPair
	err        error
	health     service.HealthReport
	lastCreate service.CreateInput
	lastMeta   service.ClientMeta
	lastRevoke service.RevokeInput
}

func (f *fakeService) Create(_ context.Context, in service.CreateInput) (*service.TokenPair, error) {
	f.lastCreate = in
	return f.pair, f.err
}

func (f *fakeService) Refresh(_ context.Context, _ string, meta service.ClientMeta) (*service.TokenPair, error) {
	f.lastMeta = meta
	return f.pair, f.err
}

func (f *fakeService) Revoke(_ context.Context, in service.RevokeInput) (*service.RevokeResult, error) {
	f.lastRevoke = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.RevokeResult{SessionID: in.SessionID, RevokedAt: time.Unix(0, 0).UTC(), Reason: "revoked"}, nil
}

func (f *fakeService) Verify(context.Context, string) (*service.SessionInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.SessionInfo{SessionID: "s1", WorkspaceID: "ws1"}, nil
}

func (f *fakeService) Health(context.Context) service.HealthReport { return f.health }

func newRouter(svc SessionService, enabled bool) *gin.Engine {
	r := gin.New()
	New(svc, enabled).Register(r)
	return r
}

func do(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorDetail {
	t.Helper()
	var body middleware.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrInvalidInput, http.StatusBadRequest, "invalid_request"},
		{service.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{service.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token"},
		{service.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
		{service.ErrRefreshTokenReused, http.StatusUnauthorized, "refresh_token_reused"},
		{service.ErrQuotaExceeded, http.StatusForbidden, "quota_exceeded"},
		{service.ErrNotFound, http.StatusNotFound, "not_found"},
		{service.ErrStaleRefreshToken, http.StatusConflict, "stale_refresh_token"},
		{fmt.Errorf("%w: db: boom", service.ErrUnavailable), http.StatusServiceUnavailable, "service_unavailable"},
		{service.ErrSigningKey, http.StatusInternalServerError, "signing_unavailable"},
		{fmt.Errorf("unexpected"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r := newRouter(&fakeService{err: tt.err}, true)
			w := do(r, http.MethodPost, BasePath+"/refresh", refreshRequest{RefreshToken: "t"}, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if got := decodeError(t, w).Code; got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	err := &service.RateLimitError{Kind: ratelimit.KindCreate, RetryAfter: 1500 * time.Millisecond}
	r := newRouter(&fakeService{err: err}, true)
	w := do(r, http.MethodPost, BasePath+"/create", createRequest{WorkspaceID: "ws1"}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if decodeError(t, w).Code != "rate_limited" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDisabledFeature(t *testing.T) {
	svc := &fakeService{health: service.HealthReport{Healthy: true, Checks: map[string]string{}}}
	r := newRouter(svc, false)
	for _, path := range []string{"/create", "/refresh", "/revoke"} {
		w := do(r, http.MethodPost, BasePath+path, map[string]string{}, nil)
		if w.Code != http.StatusNotFound || decodeError(t, w).Code != "embedded_dashboard_disabled" {
			t.Errorf("%s: status %d body %s", path, w.Code, w.Body.String())
		}
	}
	if w := do(r, http.MethodGet, BasePath+"/me", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("/me status = %d, want 404", w.Code)
	}
	if w := do(r, http.MethodGet, BasePath+"/health", nil, nil); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
}

func TestHealth(t *testing.T) {
	svc := &fakeService{health: service.HealthReport{Healthy: false, Checks: map[string]string{"session_store": "down"}}}
	w := do(newRouter(svc, true), http.MethodGet, BasePath+"/health", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "unhealthy" || body.Checks["session_store"] != "down" {
		t.Errorf("body = %+v", body)
	}
}

func TestCreatePassesRequestContext(t *testing.T) {
	svc := &fakeService{pair: &service.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: 900, TokenType: "Bearer", SessionID: "s1"}}
	w := do(newRouter(svc, true), http.MethodPost, BasePath+"/create",
		createRequest{WorkspaceID: "ws1", Fingerprint: "fp"},
		map[string]string{"Authorization": "Bearer cred", "User-Agent": "embed-host", "X-Forwarded-For": "198.51.100.4, 10.0.0.1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("token responses must not be cached")
	}
	in := svc.lastCreate
	if in.Authorization != "Bearer cred" || in.WorkspaceID != "ws1" || in.Fingerprint != "fp" {
		t.Errorf("input = %+v", in)
	}
	if in.Meta.IPAddress != "198.51.100.4" || in.Meta.UserAgent != "embed-host" {
		t.Errorf("meta = %+v", in.Meta)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	for _, k := range []string{"accessToken", "refreshToken", "expiresIn", "tokenType", "sessionId"} {
		if _, ok := body[k]; !ok {
			t.Errorf("response missing %q: %s", k, w.Body.String())
		}
	}
}

func TestBadBodies(t *testing.T) {
	r := newRouter(&fakeService{}, true)
	req := httptest.NewRequest(http.MethodPost, BasePath+"/create", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed create: status = %d, want 400", w.Code)
	}
	if w := do(r, http.MethodPost, BasePath+"/refresh", refreshRequest{}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty refresh token: status = %d, want 400", w.Code)
	}
	if w := do(r, http.MethodGet, BasePath+"/me", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("me without bearer: status = %d, want 401", w.Code)
	}
}

// newLiveRouter wires the real service over in-memory stores and returns the write-key header.
func newLiveRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	ctx := context.Background()
	keys := writekey.NewAuthorizer(writekey.NewMemoryRepository(), security.NewSecretHasher(bcrypt.MinCost))
	_, cred, err := keys.Issue(ctx, "ws1", "host")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	policy, err := engine.NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	recorder := audit.NewRecorder(auditrepo.NewMemoryRepository())
	t.Cleanup(recorder.Wait)
	svc := service.New(
		repository.NewMemoryRepository(),
		ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		keys,
		policy,
		recorder,
		security.NewTokenCodec([]byte("handler-test-secret-0123456789abcdef"), "iss", "aud", 15*time.Minute),
		service.Config{
			AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour, MaxSessions: 10,
			CreateLimit: 10, CreateWindow: time.Minute, RefreshLimit: 10, RefreshWindow: time.Minute,
		},
	)
	return newRouter(svc, true), "Bearer " + cred
}

func TestLifecycleOverHTTP(t *testing.T) {
	r, auth := newLiveRouter(t)

	w := do(r, http.MethodPost, BasePath+"/create", createRequest{WorkspaceID: "ws1"}, map[string]string{"Authorization": auth})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var t0 tokenPairResponse
	_ = json.Unmarshal(w.Body.Bytes(), &t0)
	if t0.TokenType != "Bearer" || t0.ExpiresIn != 900 {
		t.Errorf("pair = %+v", t0)
	}

	w = do(r, http.MethodGet, BasePath+"/me", nil, map[string]string{"Authorization": "Bearer " + t0.AccessToken})
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, BasePath+"/refresh", refreshRequest{RefreshToken: t0.RefreshToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", w.Code, w.Body.String())
	}
	var t1 tokenPairResponse
	_ = json.Unmarshal(w.Body.Bytes(), &t1)

	w = do(r, http.MethodPost, BasePath+"/refresh", refreshRequest{RefreshToken: t0.RefreshToken}, nil)
	if w.Code != http.StatusUnauthorized || decodeError(t, w).Code != "refresh_token_reused" {
		t.Fatalf("replay: %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPost, BasePath+"/refresh", refreshRequest{RefreshToken: t1.RefreshToken}, nil)
	if w.Code != http.StatusUnauthorized || decodeError(t, w).Code != "session_expired" {
		t.Fatalf("after reuse: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, BasePath+"/revoke", revokeRequest{SessionID: t1.SessionID}, map[string]string{"Authorization": auth})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: %d %s", w.Code, w.Body.String())
	}
	var rv revokeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rv)
	if rv.Reason != "refresh_token_reuse" {
		t.Errorf("revoke keeps first reason, got %q", rv.Reason)
	}
}
