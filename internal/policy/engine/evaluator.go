package engine

import "context"

// EmbedInput is what the embedding policy sees for one create request.
type EmbedInput struct {
	KeyID          string
	KeyWorkspaceID string
	KeyRevoked     bool
	WorkspaceID    string // requested workspace
	IPAddress      string
	UserAgent      string
}

// EmbedDecision is the policy outcome. MaxSessions of zero means "use the configured default".
type EmbedDecision struct {
	Allow       bool
	MaxSessions int
}

// Evaluator decides whether a write key may open an embedded session for a workspace.
type Evaluator interface {
	EvaluateEmbed(ctx context.Context, in EmbedInput) (EmbedDecision, error)
	HealthCheck(ctx context.Context) error
}
