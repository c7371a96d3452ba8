package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	auditdomain "embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/session/domain"
	"embedded-sessions/internal/session/repository"
	"embedded-sessions/internal/writekey"
)

// RevokeInput identifies the session to revoke. Exactly one of SessionID and RefreshToken
// is normally set; RefreshToken wins when both are.
type RevokeInput struct {
	SessionID    string
	RefreshToken string
	Reason       string
	// Authorization must carry an access token for SessionID or a write key of its
	// workspace when revoking by SessionID.
	Authorization string
	Meta          ClientMeta
}

// RevokeResult describes the terminal state of the session.
type RevokeResult struct {
	SessionID string
	RevokedAt time.Time
	Reason    string
}

// Revoke terminates a session. Repeated calls succeed and keep the first timestamp and reason.
func (s *Service) Revoke(ctx context.Context, in RevokeInput) (res *RevokeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Revoke")
	defer func() { endSpan(span, err) }()

	meta := normalizeMeta(in.Meta)
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = domain.ReasonUserRevoked
	}
	if len(reason) > maxReasonLen {
		return nil, ErrInvalidInput
	}

	var sessionID string
	switch {
	case in.RefreshToken != "":
		sessionID, err = s.sessionForRefreshToken(ctx, in.RefreshToken)
	case in.SessionID != "":
		sessionID = in.SessionID
		err = s.authorizeRevoke(ctx, in.SessionID, in.Authorization)
		if errors.Is(err, ErrUnauthorized) {
			s.recordRevokeDenied(ctx, in.SessionID, meta)
		}
	default:
		return nil, ErrInvalidInput
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session_id", sessionID))

	now := s.now().UTC()
	var sess *domain.Session
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.Revoke(ctx, sessionID, reason, now)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("revoke session", err)
	}
	s.metrics.revoked.Add(ctx, 1)
	s.record(ctx, auditdomain.Entry{
		SessionID:   sess.ID,
		WorkspaceID: sess.WorkspaceID,
		Action:      auditdomain.ActionRevoke,
		Success:     true,
	}, meta)
	return &RevokeResult{SessionID: sess.ID, RevokedAt: *sess.RevokedAt, Reason: sess.RevocationReason}, nil
}

// recordRevokeDenied audits a rejected revoke. The workspace is filled in when the
// session can be read; otherwise the recorder files the entry under the unknown workspace.
func (s *Service) recordRevokeDenied(ctx context.Context, sessionID string, meta ClientMeta) {
	e := auditdomain.Entry{
		SessionID:     sessionID,
		Action:        auditdomain.ActionRevoke,
		FailureReason: auditdomain.FailureUnauthorized,
	}
	_ = s.withTimeout(ctx, func(ctx context.Context) error {
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err == nil {
			e.WorkspaceID = sess.WorkspaceID
		}
		return err
	})
	s.record(ctx, e, meta)
}

// sessionForRefreshToken resolves a current refresh token. Rotated tokens cannot revoke.
func (s *Service) sessionForRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	var lookup *domain.Lookup
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		lookup, err = s.sessions.FindByRefreshTokenHash(ctx, security.HashToken(refreshToken))
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", unavailable("find session", err)
	}
	if !lookup.Current {
		return "", ErrInvalidRefreshToken
	}
	return lookup.Session.ID, nil
}

// authorizeRevoke accepts an access token issued for sessionID or a write key of the
// session's workspace. Sessions of other workspaces look unauthorized, not missing.
func (s *Service) authorizeRevoke(ctx context.Context, sessionID, authorization string) error {
	bearer := security.BearerToken(authorization)
	if bearer == "" {
		return ErrUnauthorized
	}
	if claims, err := s.tokens.VerifyAccess(bearer); err == nil {
		if claims.SessionID != sessionID {
			return ErrUnauthorized
		}
		return nil
	}

	cred, err := writekey.ParseAuthorization(authorization)
	if err != nil {
		return ErrUnauthorized
	}
	var key *writekey.WriteKey
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		key, err = s.keys.Authenticate(ctx, cred)
		return err
	})
	if errors.Is(err, writekey.ErrInvalidCredential) {
		return ErrUnauthorized
	}
	if err != nil {
		return unavailable("authenticate write key", err)
	}
	var sess *domain.Session
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.GetByID(ctx, sessionID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("get session", err)
	}
	if sess.WorkspaceID != key.WorkspaceID {
		return ErrUnauthorized
	}
	return nil
}

// SessionInfo is the identity behind a verified access token.
type SessionInfo struct {
	SessionID        string
	WorkspaceID      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RefreshCount     int
	CreatedAt        time.Time
}

// Verify checks an access token against its session. The token must match the session's
// current or previous access hash, so a token superseded by one rotation stays valid
// until its own expiry.
func (s *Service) Verify(ctx context.Context, accessToken string) (info *SessionInfo, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Verify")
	defer func() { endSpan(span, err) }()

	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.VerifyAccess(accessToken)
	switch {
	case errors.Is(err, security.ErrSigningKey):
		return nil, ErrSigningKey
	case errors.Is(err, security.ErrExpiredToken):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, ErrUnauthorized
	}

	var sess *domain.Session
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.GetByID(ctx, claims.SessionID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	if sess.WorkspaceID != claims.WorkspaceID {
		return nil, ErrUnauthorized
	}
	if !sess.ActiveAt(s.now().UTC()) {
		return nil, ErrSessionExpired
	}
	if !security.TokenHashEqual(accessToken, sess.AccessTokenHash) &&
		!security.TokenHashEqual(accessToken, sess.PreviousAccessTokenHash) {
		return nil, ErrUnauthorized
	}
	return &SessionInfo{
		SessionID:        sess.ID,
		WorkspaceID:      sess.WorkspaceID,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshExpiresAt: sess.RefreshExpiresAt,
		RefreshCount:     sess.RefreshCount,
		CreatedAt:        sess.CreatedAt,
	}, nil
}
