package domain

import "time"

// Action is the audited lifecycle event.
type Action string

const (
	ActionCreate        Action = "create"
	ActionRefresh       Action = "refresh"
	ActionReuseDetected Action = "reuse_detected"
	ActionRevoke        Action = "revoke"
	ActionExpire        Action = "expire"
)

// Failure reasons recorded on unsuccessful entries.
const (
	FailureUnauthorized  = "unauthorized"
	FailureRateLimited   = "rate_limited"
	FailureQuotaExceeded = "quota_exceeded"
	FailureTokenNotFound = "token_not_found"
	FailureSessionEnded  = "session_terminal"
	FailureStaleToken    = "stale_refresh_token"
	FailureTokenReuse    = "refresh_token_reuse"
	FailureInternal      = "internal_error"
)

// Entry is one append-only audit record for an embedded session.
type Entry struct {
	ID            string
	SessionID     string // empty when no session could be resolved
	WorkspaceID   string
	Action        Action
	Timestamp     time.Time
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}
