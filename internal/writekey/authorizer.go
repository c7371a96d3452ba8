package writekey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SecretHasher is the subset of security.SecretHasher used here.
type SecretHasher interface {
	Hash(secret []byte) (string, error)
	Compare(hash string, secret []byte) error
}

// Authorizer resolves credentials to active write keys.
type Authorizer struct {
	repo   Repository
	hasher SecretHasher
	now    func() time.Time
}

// NewAuthorizer returns an Authorizer over repo.
func NewAuthorizer(repo Repository, hasher SecretHasher) *Authorizer {
	return &Authorizer{repo: repo, hasher: hasher, now: time.Now}
}

// Authenticate returns the key when cred names an unrevoked key whose secret matches.
// Every credential failure is ErrInvalidCredential; repository failures are returned wrapped.
func (a *Authorizer) Authenticate(ctx context.Context, cred Credential) (*WriteKey, error) {
	if cred.KeyID == "" || cred.Secret == "" {
		return nil, ErrInvalidCredential
	}
	k, err := a.repo.GetByID(ctx, cred.KeyID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("load write key: %w", err)
	}
	if k.RevokedAt != nil {
		return nil, ErrInvalidCredential
	}
	if err := a.hasher.Compare(k.SecretHash, []byte(cred.Secret)); err != nil {
		return nil, ErrInvalidCredential
	}
	return k, nil
}

// Issue creates a new key for workspaceID and returns it with the encoded credential.
// The plaintext secret exists only in the returned credential.
func (a *Authorizer) Issue(ctx context.Context, workspaceID, name string) (*WriteKey, string, error) {
	if workspaceID == "" {
		return nil, "", fmt.Errorf("workspace id is required")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := a.hasher.Hash([]byte(secret))
	if err != nil {
		return nil, "", fmt.Errorf("hash write key: %w", err)
	}
	k := &WriteKey{
		ID:          "wk_" + uuid.New().String(),
		WorkspaceID: workspaceID,
		SecretHash:  hash,
		Name:        name,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.repo.Create(ctx, k); err != nil {
		return nil, "", fmt.Errorf("create write key: %w", err)
	}
	return k, EncodeCredential(k.ID, secret), nil
}

// Ping checks the key store.
func (a *Authorizer) Ping(ctx context.Context) error {
	return a.repo.Ping(ctx)
}
