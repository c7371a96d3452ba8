// Package writekey authenticates embedding hosts by workspace write key.
package writekey

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by repositories when no key has the id.
	ErrNotFound = errors.New("write key not found")
	// ErrInvalidCredential covers malformed, unknown, revoked and mismatched keys alike.
	ErrInvalidCredential = errors.New("invalid write key")
)

// WriteKey is a workspace-scoped credential. Only the bcrypt hash of the secret is stored.
type WriteKey struct {
	ID          string
	WorkspaceID string
	SecretHash  string
	Name        string
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// Repository persists write keys.
type Repository interface {
	GetByID(ctx context.Context, id string) (*WriteKey, error)
	Create(ctx context.Context, k *WriteKey) error
	Revoke(ctx context.Context, id string, at time.Time) error
	Ping(ctx context.Context) error
}

// Credential is a decoded write key as presented by a caller.
type Credential struct {
	KeyID  string
	Secret string
}

// EncodeCredential returns the wire form base64(id:secret).
func EncodeCredential(keyID, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(keyID + ":" + secret))
}

// ParseAuthorization extracts the credential from an Authorization header value.
// Both "Bearer <base64(id:secret)>" and "Basic <base64(id:secret)>" are accepted.
func ParseAuthorization(header string) (Credential, error) {
	header = strings.TrimSpace(header)
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok {
		return Credential{}, ErrInvalidCredential
	}
	switch strings.ToLower(scheme) {
	case "bearer", "basic":
	default:
		return Credential{}, ErrInvalidCredential
	}
	return ParseCredential(strings.TrimSpace(rest))
}

// ParseCredential decodes base64(id:secret). Padding is optional.
func ParseCredential(encoded string) (Credential, error) {
	if encoded == "" {
		return Credential{}, ErrInvalidCredential
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return Credential{}, ErrInvalidCredential
		}
	}
	id, secret, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" || secret == "" {
		return Credential{}, ErrInvalidCredential
	}
	return Credential{KeyID: id, Secret: secret}, nil
}
