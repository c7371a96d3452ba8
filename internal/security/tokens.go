package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrSigningKey is returned when the codec has no signing secret configured.
	ErrSigningKey = errors.New("signing key not configured")
	// ErrExpiredToken is returned when the access token is past its exp claim.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidSignature is returned when the signature does not verify (tampered, wrong key or alg).
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMalformedToken is returned for any other parse or claim failure.
	ErrMalformedToken = errors.New("malformed token")
)

// AccessClaims holds JWT claims for an embedded-dashboard access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
}

// VerifiedAccess is the identity carried by a valid access token.
type VerifiedAccess struct {
	SessionID   string
	WorkspaceID string
	JTI         string
	ExpiresAt   time.Time
}

// TokenCodec issues and verifies HS256 access tokens signed with a server-held secret.
type TokenCodec struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenCodec returns a TokenCodec. An empty secret is accepted here so that
// misconfiguration surfaces as ErrSigningKey at issue time.
func NewTokenCodec(secret []byte, issuer, audience string, accessTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		secret:    secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// WithClock replaces the codec's time source. Used by tests and by callers sharing a clock.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

// IssueAccess issues a short-lived access JWT bound to the session and workspace.
// Returns the token string, its jti, and expiration time.
func (c *TokenCodec) IssueAccess(sessionID, workspaceID string) (token string, jti string, expiresAt time.Time, err error) {
	if len(c.secret) == 0 {
		return "", "", time.Time{}, ErrSigningKey
	}
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := c.now().UTC()
	expiresAt = now.Add(c.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sessionID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		WorkspaceID: workspaceID,
		SessionID:   sessionID,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// VerifyAccess parses and validates the access token (signature, exp, iss, aud).
func (c *TokenCodec) VerifyAccess(tokenString string) (*VerifiedAccess, error) {
	if len(c.secret) == 0 {
		return nil, ErrSigningKey
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}
	if claims.SessionID == "" || claims.WorkspaceID == "" || claims.ExpiresAt == nil {
		return nil, ErrMalformedToken
	}
	return &VerifiedAccess{
		SessionID:   claims.SessionID,
		WorkspaceID: claims.WorkspaceID,
		JTI:         claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

const bearerPrefix = "bearer "

// BearerToken returns the token from an "Authorization: Bearer <token>" value, or ""
// when the scheme is missing or different. The scheme is case-insensitive.
func BearerToken(authorization string) string {
	v := strings.TrimSpace(authorization)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	default:
		return ErrMalformedToken
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
