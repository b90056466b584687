package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/crypdick/pynchy/pkg/gateway"
)

// Gate implements gateway.WriteEvaluator and gateway.ReadEvaluator for every workspace in one
// process: a per-(folder, tool) token-bucket rate limiter approximating the spec's
// "N calls per hour" budget, a per-folder taint bit set by EvaluateRead, and the tiered
// evaluate_write policy of spec.md §4.10.
type Gate struct {
	mu       sync.Mutex
	policies map[string]WorkspacePolicy
	limiters map[string]map[string]*rate.Limiter
	tainted  map[string]bool

	instances InstanceLookup
	rules     RulesEngine
	logger    *slog.Logger
}

// NewGate builds a Gate. instances resolves an MCP instance id to its owning workspace for
// EvaluateRead; rules may be nil to use NewDefaultRules.
func NewGate(instances InstanceLookup, rules RulesEngine) *Gate {
	if rules == nil {
		rules = NewDefaultRules()
	}
	return &Gate{
		policies:  make(map[string]WorkspacePolicy),
		limiters:  make(map[string]map[string]*rate.Limiter),
		tainted:   make(map[string]bool),
		instances: instances,
		rules:     rules,
		logger:    slog.Default().With("component", "security"),
	}
}

// SetWorkspacePolicy installs or replaces folder's resolved security profile. Called once per
// configured workspace at startup.
func (g *Gate) SetWorkspacePolicy(folder string, policy WorkspacePolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[folder] = policy
}

// EvaluateWrite implements gateway.WriteEvaluator.
func (g *Gate) EvaluateWrite(ctx context.Context, folder, toolName string, args map[string]any) (gateway.Verdict, string, error) {
	policy, limiter, tainted := g.snapshot(folder, toolName)

	if limit := policy.resolveRateLimit(toolName); limit > 0 {
		if !limiter.Allow() {
			return gateway.VerdictDenied, fmt.Sprintf("rate limit exceeded for %s (%d/hour)", toolName, limit), nil
		}
	}

	tier := policy.resolveTier(toolName)
	switch tier {
	case TierAlwaysApprove:
		if tainted {
			// Escalate: a session that has read untrusted content no longer gets an
			// unconditional pass even for a normally always-approve tool.
			return g.evaluateRulesEngine(toolName, args, tainted, policy)
		}
		return gateway.VerdictAllowed, "", nil

	case TierRulesEngine:
		return g.evaluateRulesEngine(toolName, args, tainted, policy)

	case TierHumanApproval:
		if policy.IsAdmin {
			return gateway.VerdictAllowed, "", nil
		}
		return gateway.VerdictNeedsHuman, fmt.Sprintf("%s requires human approval", toolName), nil

	default:
		return gateway.VerdictNeedsHuman, fmt.Sprintf("unknown risk tier for %s", toolName), nil
	}
}

func (g *Gate) evaluateRulesEngine(toolName string, args map[string]any, tainted bool, policy WorkspacePolicy) (gateway.Verdict, string, error) {
	needsHuman, reason := g.rules.NeedsHuman(toolName, args, tainted)
	if !needsHuman {
		return gateway.VerdictAllowed, "", nil
	}
	if policy.IsAdmin {
		return gateway.VerdictAllowed, "", nil
	}
	return gateway.VerdictNeedsHuman, reason, nil
}

// EvaluateRead implements gateway.ReadEvaluator: it records that folder's session has consumed
// content from instanceID, a fact later EvaluateWrite calls on the same workspace consult.
func (g *Gate) EvaluateRead(ctx context.Context, instanceID string) error {
	folder, ok := g.instances.InstanceFolder(instanceID)
	if !ok {
		return fmt.Errorf("security: unknown mcp instance %q", instanceID)
	}
	g.mu.Lock()
	g.tainted[folder] = true
	g.mu.Unlock()
	return nil
}

// ResetTaint clears folder's taint bit, intended to be called when a workspace's session ends
// so the next session starts untainted.
func (g *Gate) ResetTaint(folder string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tainted, folder)
}

func (g *Gate) snapshot(folder, tool string) (WorkspacePolicy, *rate.Limiter, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	policy := g.policies[folder]
	tainted := g.tainted[folder]

	perFolder, ok := g.limiters[folder]
	if !ok {
		perFolder = make(map[string]*rate.Limiter)
		g.limiters[folder] = perFolder
	}
	limiter, ok := perFolder[tool]
	if !ok {
		limit := policy.resolveRateLimit(tool)
		limiter = newHourlyLimiter(limit)
		perFolder[tool] = limiter
	}
	return policy, limiter, tainted
}

// newHourlyLimiter builds a token bucket that refills to maxPerHour tokens over an hour and
// allows an initial burst up to that size — the closest token-bucket approximation of
// spec.md's "max_calls_per_hour" budget. limit <= 0 means unlimited.
func newHourlyLimiter(limit int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(limit)), limit)
}
