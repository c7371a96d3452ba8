package security

import (
	"golang.org/x/crypto/bcrypt"
)

// SecretHasher hashes and verifies write-key secrets using bcrypt. Callers must
// not log or persist plaintext secrets.
type SecretHasher struct {
	Cost int
}

// NewSecretHasher returns a SecretHasher with the given bcrypt cost, clamped to
// bcrypt's supported range. Zero or negative selects bcrypt.DefaultCost.
func NewSecretHasher(cost int) *SecretHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &SecretHasher{Cost: cost}
}

// Hash produces a bcrypt hash of secret suitable for storage.
func (h *SecretHasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns nil when secret matches hash. Mismatch yields
// bcrypt.ErrMismatchedHashAndPassword.
func (h *SecretHasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}
