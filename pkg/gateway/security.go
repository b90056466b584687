package gateway

import "context"

// Verdict is the outcome of a security-gate evaluation.
type Verdict string

const (
	VerdictAllowed     Verdict = "allowed"
	VerdictNeedsHuman  Verdict = "needs_human"
	VerdictDenied      Verdict = "denied"
)

// WriteEvaluator is the outbound half of the security gate (spec.md §4.6/§4.7): every MCP
// tool call the container makes is classified before it reaches the backend. Implemented by
// *security.Gate.
type WriteEvaluator interface {
	EvaluateWrite(ctx context.Context, folder, toolName string, args map[string]any) (Verdict, string, error)
}

// ReadEvaluator is the inbound half: content returned by a server the trust map marks
// `public_source: true` is taint-tracked before the agent ever sees it. Implemented by
// *security.Gate.
type ReadEvaluator interface {
	EvaluateRead(ctx context.Context, instanceID string) error
}

// Approver requests human approval for a tool call a WriteEvaluator tagged needs_human,
// blocking the in-flight MCP request until a decision arrives or the request times out.
// Implemented by a lifecycle-provided adapter over *approval.Manager (which needs the
// workspace's chat jid, looked up from folder, to notify the right chat).
type Approver interface {
	RequestApproval(ctx context.Context, folder, tool string, args map[string]any) (bool, error)
}

// Inspector scans untrusted text for prompt-injection-shaped content (the spec's "Cop"),
// mirroring the teacher's masking.Masker interface shape (Name/AppliesTo) but for detection
// rather than redaction. Implemented by *security.Cop.
type Inspector interface {
	Name() string
	Flag(text string) bool
}

const safetyMessage = "[content withheld: flagged by inspection]"

// FenceUntrustedText wraps text from a public_source-trusted server with untrusted-content
// markers so the agent's own prompt never confuses it for host-originated instructions,
// unless an Inspector has already flagged it for outright replacement.
func FenceUntrustedText(text string, inspectors []Inspector) string {
	for _, insp := range inspectors {
		if insp.Flag(text) {
			return safetyMessage
		}
	}
	return "<untrusted_mcp_content>\n" + text + "\n</untrusted_mcp_content>"
}
