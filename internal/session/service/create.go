package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	auditdomain "embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/policy/engine"
	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/session/domain"
	"embedded-sessions/internal/session/repository"
	"embedded-sessions/internal/writekey"
)

// CreateInput is one session-creation request.
type CreateInput struct {
	// Authorization is the raw header carrying the workspace write key.
	Authorization string
	WorkspaceID   string
	Fingerprint   string
	Meta          ClientMeta
}

// Create authorizes the write key, applies the create rate limit and the workspace cap,
// then persists a new session and returns its first token pair.
func (s *Service) Create(ctx context.Context, in CreateInput) (pair *TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Create")
	defer func() { endSpan(span, err) }()

	workspaceID := strings.TrimSpace(in.WorkspaceID)
	if workspaceID == "" || len(in.Fingerprint) > maxFingerprintLen {
		return nil, ErrInvalidInput
	}
	span.SetAttributes(attribute.String("workspace_id", workspaceID))
	meta := normalizeMeta(in.Meta)
	fail := func(reason string) {
		s.record(ctx, auditdomain.Entry{WorkspaceID: workspaceID, Action: auditdomain.ActionCreate, FailureReason: reason}, meta)
	}

	decision, err := s.authorizeCreate(ctx, in.Authorization, workspaceID, meta)
	if errors.Is(err, ErrUnauthorized) {
		fail(auditdomain.FailureUnauthorized)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkRate(ctx, workspaceID, ratelimit.KindCreate, s.cfg.CreateLimit, s.cfg.CreateWindow); err != nil {
		if errors.Is(err, ErrRateLimited) {
			fail(auditdomain.FailureRateLimited)
		}
		return nil, err
	}

	limit := s.cfg.MaxSessions
	if decision.MaxSessions > 0 {
		limit = decision.MaxSessions
	}
	now := s.now().UTC()
	var active int
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		active, err = s.sessions.CountActive(ctx, workspaceID, now)
		return err
	})
	if err != nil {
		return nil, unavailable("count active sessions", err)
	}
	if active >= limit {
		fail(auditdomain.FailureQuotaExceeded)
		return nil, ErrQuotaExceeded
	}

	sess, pair, err := s.mintSession(ctx, workspaceID, in.Fingerprint, meta)
	if err != nil {
		if !errors.Is(err, ErrSigningKey) {
			fail(auditdomain.FailureInternal)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))
	s.metrics.created.Add(ctx, 1)
	s.record(ctx, auditdomain.Entry{
		SessionID:   sess.ID,
		WorkspaceID: workspaceID,
		Action:      auditdomain.ActionCreate,
		Success:     true,
	}, meta)
	return pair, nil
}

// authorizeCreate authenticates the write key and evaluates the embedding policy.
// Credential and policy denials are ErrUnauthorized; backend failures are ErrUnavailable.
func (s *Service) authorizeCreate(ctx context.Context, authorization, workspaceID string, meta ClientMeta) (engine.EmbedDecision, error) {
	cred, err := writekey.ParseAuthorization(authorization)
	if err != nil {
		return engine.EmbedDecision{}, ErrUnauthorized
	}
	var key *writekey.WriteKey
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		key, err = s.keys.Authenticate(ctx, cred)
		return err
	})
	if errors.Is(err, writekey.ErrInvalidCredential) {
		return engine.EmbedDecision{}, ErrUnauthorized
	}
	if err != nil {
		return engine.EmbedDecision{}, unavailable("authenticate write key", err)
	}
	// Workspace scope holds regardless of the loaded policy; the policy can only narrow it.
	if key.WorkspaceID != workspaceID {
		return engine.EmbedDecision{}, ErrUnauthorized
	}
	decision, err := s.policy.EvaluateEmbed(ctx, engine.EmbedInput{
		KeyID:          key.ID,
		KeyWorkspaceID: key.WorkspaceID,
		KeyRevoked:     key.RevokedAt != nil,
		WorkspaceID:    workspaceID,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	})
	if err != nil {
		return engine.EmbedDecision{}, unavailable("evaluate embed policy", err)
	}
	if !decision.Allow {
		return engine.EmbedDecision{}, ErrUnauthorized
	}
	return decision, nil
}

// mintSession issues tokens and persists the session, retrying once on a hash collision.
func (s *Service) mintSession(ctx context.Context, workspaceID, fingerprint string, meta ClientMeta) (*domain.Session, *TokenPair, error) {
	family := uuid.New().String()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now().UTC()
		sessionID := uuid.New().String()
		refresh, err := security.GenerateRefreshToken()
		if err != nil {
			return nil, nil, err
		}
		access, _, accessExp, err := s.tokens.IssueAccess(sessionID, workspaceID)
		if err != nil {
			return nil, nil, mapTokenError(err)
		}
		sess := &domain.Session{
			ID:                 sessionID,
			WorkspaceID:        workspaceID,
			RefreshTokenHash:   security.HashToken(refresh),
			RefreshTokenFamily: family,
			AccessTokenHash:    security.HashToken(access),
			CreatedAt:          now,
			ExpiresAt:          accessExp,
			RefreshExpiresAt:   now.Add(s.cfg.RefreshTTL),
			IPAddress:          meta.IPAddress,
			UserAgent:          meta.UserAgent,
			Fingerprint:        fingerprint,
		}
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			return s.sessions.Create(ctx, sess)
		})
		if errors.Is(err, repository.ErrDuplicateSession) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, nil, unavailable("create session", err)
		}
		return sess, newPair(access, refresh, sessionID, accessExp, s.tokens.AccessTTL()), nil
	}
	return nil, nil, unavailable("create session", lastErr)
}
