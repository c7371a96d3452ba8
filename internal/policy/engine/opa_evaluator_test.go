package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	testCases := []struct {
		name  string
		in    EmbedInput
		allow bool
	}{
		{"own workspace", EmbedInput{KeyID: "k", KeyWorkspaceID: "ws1", WorkspaceID: "ws1"}, true},
		{"other workspace", EmbedInput{KeyID: "k", KeyWorkspaceID: "ws1", WorkspaceID: "ws2"}, false},
		{"revoked key", EmbedInput{KeyID: "k", KeyWorkspaceID: "ws1", WorkspaceID: "ws1", KeyRevoked: true}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := e.EvaluateEmbed(ctx, tc.in)
			if err != nil {
				t.Fatalf("EvaluateEmbed: %v", err)
			}
			if d.Allow != tc.allow {
				t.Errorf("Allow = %v, want %v", d.Allow, tc.allow)
			}
			if d.MaxSessions != 0 {
				t.Errorf("MaxSessions = %d, want 0 from default policy", d.MaxSessions)
			}
		})
	}
}

const premiumPolicy = `package embedded.sessions

default allow := false

default max_sessions := 0

allow if {
	input.key.workspace_id == input.request.workspace_id
}

max_sessions := 5000 if {
	startswith(input.request.workspace_id, "premium-")
}
`

func TestOPAEvaluator_CustomPolicyFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embed.rego")
	if err := os.WriteFile(path, []byte(premiumPolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	e, err := NewOPAEvaluatorFromFile(ctx, path)
	if err != nil {
		t.Fatalf("NewOPAEvaluatorFromFile: %v", err)
	}
	d, err := e.EvaluateEmbed(ctx, EmbedInput{KeyWorkspaceID: "premium-1", WorkspaceID: "premium-1"})
	if err != nil {
		t.Fatalf("EvaluateEmbed: %v", err)
	}
	if !d.Allow || d.MaxSessions != 5000 {
		t.Errorf("decision = %+v, want allow with 5000", d)
	}
	d, _ = e.EvaluateEmbed(ctx, EmbedInput{KeyWorkspaceID: "basic", WorkspaceID: "basic"})
	if d.MaxSessions != 0 {
		t.Errorf("basic MaxSessions = %d, want 0", d.MaxSessions)
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := NewOPAEvaluatorFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Fatal("expected read error")
	}
}
