package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"embedded-sessions/internal/audit"
	auditdomain "embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/policy/engine"
	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/session/repository"
	"embedded-sessions/internal/writekey"
)

const (
	// TokenType is the token_type of every issued pair.
	TokenType = "Bearer"

	maxFingerprintLen = 256
	maxUserAgentLen   = 512
	maxReasonLen      = 64
	unknownIP         = "unknown"
)

// RateLimiter is the subset of ratelimit.Limiter the service uses.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, key string, kind ratelimit.Kind, limit int, window time.Duration) (ratelimit.Decision, error)
	Ping(ctx context.Context) error
}

// KeyAuthenticator resolves write-key credentials.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, cred writekey.Credential) (*writekey.WriteKey, error)
	Ping(ctx context.Context) error
}

// Config holds the service limits. Zero durations and counts are invalid; see config.Load.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MaxSessions   int
	CreateLimit   int
	CreateWindow  time.Duration
	RefreshLimit  int
	RefreshWindow time.Duration
	// ReuseGrace reports a token consumed less than this long ago as stale instead of reused. 0 disables.
	ReuseGrace   time.Duration
	StoreTimeout time.Duration
}

// ClientMeta describes the caller of one request.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// TokenPair is returned by Create and Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access-token lifetime in seconds
	TokenType    string
	SessionID    string
	ExpiresAt    time.Time
}

// Service orchestrates the embedded-session lifecycle.
type Service struct {
	sessions repository.Repository
	limiter  RateLimiter
	keys     KeyAuthenticator
	policy   engine.Evaluator
	audit    audit.AuditRecorder
	tokens   *security.TokenCodec
	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer
	metrics  *metrics
}

// New returns a Service with the given dependencies.
func New(
	sessions repository.Repository,
	limiter RateLimiter,
	keys KeyAuthenticator,
	policy engine.Evaluator,
	recorder audit.AuditRecorder,
	tokens *security.TokenCodec,
	cfg Config,
) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &Service{
		sessions: sessions,
		limiter:  limiter,
		keys:     keys,
		policy:   policy,
		audit:    recorder,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
		tracer:   otel.Tracer("embedded-sessions/session"),
		metrics:  newMetrics(),
	}
}

// WithClock replaces the service time source. The token codec keeps its own clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// HealthReport lists each dependency check as "ok" or an error message.
type HealthReport struct {
	Healthy bool
	Checks  map[string]string
}

// Health pings the session store, write-key store and rate limiter, and evaluates the policy.
func (s *Service) Health(ctx context.Context) HealthReport {
	checks := map[string]func(context.Context) error{
		"session_store": s.sessions.Ping,
		"rate_limiter":  s.limiter.Ping,
		"write_keys":    s.keys.Ping,
		"policy":        s.policy.HealthCheck,
	}
	report := HealthReport{Healthy: true, Checks: make(map[string]string, len(checks))}
	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			report.Healthy = false
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = "ok"
	}
	return report
}

// withTimeout runs fn under StoreTimeout.
func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(cctx)
}

// checkRate applies one limit and converts denials to *RateLimitError.
func (s *Service) checkRate(ctx context.Context, key string, kind ratelimit.Kind, limit int, window time.Duration) error {
	var d ratelimit.Decision
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.limiter.CheckAndIncrement(ctx, key, kind, limit, window)
		return err
	})
	if err != nil {
		return unavailable("rate limit", err)
	}
	if !d.Allowed {
		s.metrics.rateLimited.Add(ctx, 1, kindAttr(kind))
		return &RateLimitError{Kind: kind, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *Service) record(ctx context.Context, e auditdomain.Entry, meta ClientMeta) {
	if s.audit == nil {
		return
	}
	e.IPAddress = meta.IPAddress
	e.UserAgent = meta.UserAgent
	e.Timestamp = s.now().UTC()
	s.audit.Record(ctx, e)
}

// unavailable marks a backend failure. The cause stays in the chain for logging.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// mapTokenError translates codec errors for issuance.
func mapTokenError(err error) error {
	if errors.Is(err, security.ErrSigningKey) {
		return ErrSigningKey
	}
	return fmt.Errorf("%w: %w", ErrSigningKey, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func normalizeMeta(meta ClientMeta) ClientMeta {
	if meta.IPAddress == "" {
		meta.IPAddress = unknownIP
	}
	if len(meta.UserAgent) > maxUserAgentLen {
		meta.UserAgent = meta.UserAgent[:maxUserAgentLen]
	}
	return meta
}

func newPair(access, refresh, sessionID string, expiresAt time.Time, ttl time.Duration) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(ttl / time.Second),
		TokenType:    TokenType,
		SessionID:    sessionID,
		ExpiresAt:    expiresAt,
	}
}
