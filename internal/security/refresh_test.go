package security

import (
	"encoding/base64"
	"testing"
)

func TestGenerateRefreshToken_Entropy(t *testing.T) {
	tok, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not raw url base64: %v", err)
	}
	if len(raw) != RefreshTokenBytes {
		t.Errorf("decoded length = %d, want %d", len(raw), RefreshTokenBytes)
	}
}

func TestGenerateRefreshToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateRefreshToken()
		if err != nil {
			t.Fatalf("GenerateRefreshToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[tok] = true
	}
}

func TestHashToken_Consistent(t *testing.T) {
	token := "test-refresh-token-123"
	hash1 := HashToken(token)
	hash2 := HashToken(token)

	if hash1 != hash2 {
		t.Errorf("HashToken not consistent: hash1 = %q, hash2 = %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}

func TestHashToken_DifferentTokens(t *testing.T) {
	if HashToken("token-1") == HashToken("token-2") {
		t.Error("HashToken produced same hash for different tokens")
	}
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("correct-token")
	testCases := []struct {
		name     string
		provided string
		stored   string
		want     bool
	}{
		{"match", "correct-token", stored, true},
		{"wrong token", "wrong-token", stored, false},
		{"longer hash", "correct-token", "a" + stored, false},
		{"same length different content", "correct-token", "a" + stored[1:], false},
		{"empty token", "", stored, false},
		{"empty both", "", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TokenHashEqual(tc.provided, tc.stored); got != tc.want {
				t.Errorf("TokenHashEqual = %v, want %v", got, tc.want)
			}
		})
	}
}
