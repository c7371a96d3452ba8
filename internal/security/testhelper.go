package security

import "time"

// testSecret is a 32+ byte HMAC secret for unit tests only. Do not use in production.
const testSecret = "test-secret-0123456789abcdef0123456789"

// NewTestTokenCodec returns a TokenCodec using the test secret and a 15 minute access TTL.
// For unit tests only.
func NewTestTokenCodec() *TokenCodec {
	return NewTokenCodec([]byte(testSecret), "test-issuer", "test-audience", 15*time.Minute)
}
