package domain

import "time"

// State is the derived lifecycle state of an embedded session.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Revocation reasons persisted in revocation_reason.
const (
	ReasonUserRevoked = "revoked"
	ReasonTokenReuse  = "refresh_token_reuse"
	ReasonExpired     = "expired"
)

// Session is an embedded-dashboard session scoped to a workspace.
// Refresh and access tokens are held only as SHA-256 hex hashes.
type Session struct {
	ID                      string
	WorkspaceID             string
	RefreshTokenHash        string // current; unique across all sessions
	RefreshTokenFamily      string // stable across rotations
	AccessTokenHash         string
	PreviousAccessTokenHash string // empty until the first rotation
	CreatedAt               time.Time
	LastRefreshedAt         *time.Time
	ExpiresAt               time.Time // access-token expiry
	RefreshExpiresAt        time.Time // absolute session lifetime
	RevokedAt               *time.Time
	RevocationReason        string
	RefreshCount            int
	IPAddress               string
	UserAgent               string
	Fingerprint             string
}

// StateAt returns the session state at now. Revocation wins over expiry.
func (s *Session) StateAt(now time.Time) State {
	if s.RevokedAt != nil {
		return StateRevoked
	}
	if !now.Before(s.RefreshExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// ActiveAt reports whether the session can still be refreshed or used at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.StateAt(now) == StateActive
}

// Clone returns a deep copy so stores can hand out sessions without sharing pointers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastRefreshedAt != nil {
		t := *s.LastRefreshedAt
		c.LastRefreshedAt = &t
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// RefreshToken is one issued refresh token in a session's lineage.
type RefreshToken struct {
	TokenHash  string
	SessionID  string
	Family     string
	Generation int
	IssuedAt   time.Time
	ConsumedAt *time.Time
}

// Lookup is the result of resolving a presented refresh-token hash.
// Current is false when the hash belongs to an already-rotated token.
type Lookup struct {
	Session *Session
	Token   *RefreshToken
	Current bool
}
