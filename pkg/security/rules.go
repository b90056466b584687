package security

import "strings"

// exfiltrationHints are tool-name substrings that look like outbound, irreversible,
// or destructive actions — the set of calls a rules-engine tier tool should escalate to
// needs_human once the session is tainted by untrusted content.
var exfiltrationHints = []string{
	"send", "post", "publish", "email", "tweet", "webhook", "upload", "exec", "delete", "rm_",
	"remove", "pay", "transfer", "message", "dm", "notify",
}

// RulesEngine evaluates a rules-engine-tier tool call, returning whether it needs a human.
// Implemented by *DefaultRules.
type RulesEngine interface {
	NeedsHuman(tool string, args map[string]any, tainted bool) (bool, string)
}

// DefaultRules is a small heuristic rules engine: untainted calls pass, tainted calls escalate
// only when the tool name itself looks like it could exfiltrate data or take an irreversible
// action. This is deliberately conservative — a real rules engine would consult a workspace's
// configured allow/deny lists, but none are in scope for this spec.
type DefaultRules struct{}

// NewDefaultRules builds the default rules engine.
func NewDefaultRules() *DefaultRules { return &DefaultRules{} }

func (r *DefaultRules) NeedsHuman(tool string, args map[string]any, tainted bool) (bool, string) {
	if !tainted {
		return false, ""
	}
	lower := strings.ToLower(tool)
	for _, hint := range exfiltrationHints {
		if strings.Contains(lower, hint) {
			return true, "tool " + tool + " looks like outbound/irreversible action after reading untrusted content"
		}
	}
	return false, ""
}
