package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const embedQuery = "allow := data.embedded.sessions.allow; max_sessions := data.embedded.sessions.max_sessions"

// DefaultEmbedPolicy allows a key to embed only its own workspace and leaves the
// session cap to configuration.
const DefaultEmbedPolicy = `package embedded.sessions

default allow := false

default max_sessions := 0

allow if {
	input.key.workspace_id == input.request.workspace_id
	not input.key.revoked
}
`

// OPAEvaluator evaluates the embedding policy with an in-process OPA Rego engine.
// The policy is compiled once; evaluation is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (a Rego module in package embedded.sessions).
// An empty policy selects DefaultEmbedPolicy.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultEmbedPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"embed.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile embed policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(embedQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare embed policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// NewOPAEvaluatorFromFile reads the policy from path, or uses the default when path is empty.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embed policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// EvaluateEmbed runs the policy. Errors mean the decision could not be made; callers must deny.
func (e *OPAEvaluator) EvaluateEmbed(ctx context.Context, in EmbedInput) (EmbedDecision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return EmbedDecision{}, fmt.Errorf("eval embed policy: %w", err)
	}
	if len(rs) == 0 {
		return EmbedDecision{}, fmt.Errorf("embed policy returned no result")
	}
	var out EmbedDecision
	if v, ok := rs[0].Bindings["allow"].(bool); ok {
		out.Allow = v
	}
	out.MaxSessions = toInt(rs[0].Bindings["max_sessions"])
	return out, nil
}

// HealthCheck evaluates the compiled policy against a fixed input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateEmbed(ctx, EmbedInput{KeyID: "health", KeyWorkspaceID: "health", WorkspaceID: "health"})
	return err
}

func buildInput(in EmbedInput) map[string]interface{} {
	return map[string]interface{}{
		"key": map[string]interface{}{
			"id":           in.KeyID,
			"workspace_id": in.KeyWorkspaceID,
			"revoked":      in.KeyRevoked,
		},
		"request": map[string]interface{}{
			"workspace_id": in.WorkspaceID,
			"ip":           in.IPAddress,
			"user_agent":   in.UserAgent,
		},
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil && i > 0 {
			return int(i)
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	}
	return 0
}
