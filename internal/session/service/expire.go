package service

import (
	"context"

	auditdomain "embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/session/domain"
)

// ExpireStale marks up to limit sessions past their refresh lifetime as revoked and
// audits each as expire. It returns how many sessions were marked.
func (s *Service) ExpireStale(ctx context.Context, limit int) (n int, err error) {
	ctx, span := s.tracer.Start(ctx, "session.ExpireStale")
	defer func() { endSpan(span, err) }()

	now := s.now().UTC()
	var expired []*domain.Session
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.sessions.ExpireStale(ctx, now, limit)
		return err
	})
	if err != nil {
		return 0, unavailable("expire stale sessions", err)
	}
	for _, sess := range expired {
		s.record(ctx, auditdomain.Entry{
			SessionID:   sess.ID,
			WorkspaceID: sess.WorkspaceID,
			Action:      auditdomain.ActionExpire,
			Success:     true,
		}, ClientMeta{IPAddress: "system"})
	}
	return len(expired), nil
}
