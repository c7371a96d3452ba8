package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	auditdomain "embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/session/domain"
	"embedded-sessions/internal/session/repository"
)

// Refresh rotates a current refresh token. A token of the session's lineage that was
// rotated before this request began revokes the whole family (reuse detection); one
// rotated while it was in flight lost a race and is stale.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (pair *TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Refresh")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil, ErrInvalidInput
	}
	meta = normalizeMeta(meta)

	if err := s.checkRate(ctx, meta.IPAddress, ratelimit.KindRefresh, s.cfg.RefreshLimit, s.cfg.RefreshWindow); err != nil {
		if errors.Is(err, ErrRateLimited) {
			s.record(ctx, auditdomain.Entry{Action: auditdomain.ActionRefresh, FailureReason: auditdomain.FailureRateLimited}, meta)
		}
		return nil, err
	}

	// Postgres keeps microseconds; compare consumption times at that precision.
	started := s.now().UTC().Truncate(time.Microsecond)
	oldHash := security.HashToken(refreshToken)
	var lookup *domain.Lookup
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		lookup, err = s.sessions.FindByRefreshTokenHash(ctx, oldHash)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		s.record(ctx, auditdomain.Entry{Action: auditdomain.ActionRefresh, FailureReason: auditdomain.FailureTokenNotFound}, meta)
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, unavailable("find session", err)
	}

	sess := lookup.Session
	span.SetAttributes(attribute.String("session_id", sess.ID), attribute.String("workspace_id", sess.WorkspaceID))
	failure := func(action auditdomain.Action, reason string) {
		s.record(ctx, auditdomain.Entry{
			SessionID:     sess.ID,
			WorkspaceID:   sess.WorkspaceID,
			Action:        action,
			FailureReason: reason,
		}, meta)
	}

	now := s.now().UTC()
	if !sess.ActiveAt(now) {
		failure(auditdomain.ActionRefresh, auditdomain.FailureSessionEnded)
		return nil, ErrSessionExpired
	}

	if !lookup.Current {
		if consumedSince(lookup, started) || s.withinReuseGrace(lookup, now) {
			failure(auditdomain.ActionRefresh, auditdomain.FailureStaleToken)
			return nil, ErrStaleRefreshToken
		}
		return nil, s.revokeReusedFamily(ctx, sess, meta)
	}

	return s.rotate(ctx, sess, oldHash, meta)
}

// consumedSince reports whether the token was rotated at or after started, i.e. by a
// concurrent refresh that committed while this one was in flight. Only tokens consumed
// before the request began count as reuse.
func consumedSince(lookup *domain.Lookup, started time.Time) bool {
	if lookup.Token == nil || lookup.Token.ConsumedAt == nil {
		return false
	}
	return !lookup.Token.ConsumedAt.Before(started)
}

// withinReuseGrace reports whether a non-current token was consumed within ReuseGrace,
// i.e. a client that lost a concurrent refresh retrying with the token it already sent.
func (s *Service) withinReuseGrace(lookup *domain.Lookup, now time.Time) bool {
	if s.cfg.ReuseGrace <= 0 || lookup.Token == nil || lookup.Token.ConsumedAt == nil {
		return false
	}
	return now.Sub(*lookup.Token.ConsumedAt) < s.cfg.ReuseGrace
}

// revokeReusedFamily revokes every session of the family and audits the detection.
func (s *Service) revokeReusedFamily(ctx context.Context, sess *domain.Session, meta ClientMeta) error {
	now := s.now().UTC()
	var revoked int
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.sessions.RevokeFamily(ctx, sess.RefreshTokenFamily, domain.ReasonTokenReuse, now)
		return err
	})
	s.record(ctx, auditdomain.Entry{
		SessionID:     sess.ID,
		WorkspaceID:   sess.WorkspaceID,
		Action:        auditdomain.ActionReuseDetected,
		FailureReason: auditdomain.FailureTokenReuse,
	}, meta)
	s.metrics.reuseDetected.Add(ctx, 1)
	if err != nil {
		logger.Error().Err(err).
			Str("session_id", sess.ID).
			Str("family", sess.RefreshTokenFamily).
			Msg("session: reuse detected but family revocation failed")
		return unavailable("revoke session family", err)
	}
	logger.Warn().
		Str("session_id", sess.ID).
		Str("workspace_id", sess.WorkspaceID).
		Int("revoked", revoked).
		Str("ip", meta.IPAddress).
		Msg("session: refresh token reuse detected")
	return ErrRefreshTokenReused
}

// rotate swaps the refresh token under the store's conditional update.
func (s *Service) rotate(ctx context.Context, sess *domain.Session, oldHash string, meta ClientMeta) (*TokenPair, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now().UTC()
		refresh, err := security.GenerateRefreshToken()
		if err != nil {
			return nil, err
		}
		access, _, accessExp, err := s.tokens.IssueAccess(sess.ID, sess.WorkspaceID)
		if err != nil {
			return nil, mapTokenError(err)
		}
		var updated *domain.Session
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			updated, err = s.sessions.Rotate(ctx, repository.RotateParams{
				SessionID:       sess.ID,
				OldRefreshHash:  oldHash,
				NewRefreshHash:  security.HashToken(refresh),
				NewAccessHash:   security.HashToken(access),
				AccessExpiresAt: accessExp,
				Now:             now,
			})
			return err
		})
		switch {
		case errors.Is(err, repository.ErrDuplicateSession):
			lastErr = err
			continue
		case errors.Is(err, repository.ErrStaleRefreshToken):
			s.record(ctx, auditdomain.Entry{
				SessionID:     sess.ID,
				WorkspaceID:   sess.WorkspaceID,
				Action:        auditdomain.ActionRefresh,
				FailureReason: auditdomain.FailureStaleToken,
			}, meta)
			return nil, ErrStaleRefreshToken
		case err != nil:
			return nil, unavailable("rotate session", err)
		}
		s.metrics.refreshed.Add(ctx, 1)
		s.record(ctx, auditdomain.Entry{
			SessionID:   updated.ID,
			WorkspaceID: updated.WorkspaceID,
			Action:      auditdomain.ActionRefresh,
			Success:     true,
		}, meta)
		return newPair(access, refresh, updated.ID, accessExp, s.tokens.AccessTTL()), nil
	}
	return nil, unavailable("rotate session", lastErr)
}
