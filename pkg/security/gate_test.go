package security

import (
	"context"
	"testing"

	"github.com/crypdick/pynchy/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstanceLookup struct {
	byInstance map[string]string
}

func (f *fakeInstanceLookup) InstanceFolder(instanceID string) (string, bool) {
	folder, ok := f.byInstance[instanceID]
	return folder, ok
}

func TestEvaluateWriteAlwaysApproveAllowsUntaintedCall(t *testing.T) {
	g := NewGate(&fakeInstanceLookup{}, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierAlwaysApprove})

	verdict, _, err := g.EvaluateWrite(context.Background(), "acme", "read_file", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictAllowed, verdict)
}

func TestEvaluateWriteHumanApprovalTierNeedsHuman(t *testing.T) {
	g := NewGate(&fakeInstanceLookup{}, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierHumanApproval})

	verdict, reason, err := g.EvaluateWrite(context.Background(), "acme", "delete_repo", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictNeedsHuman, verdict)
	assert.NotEmpty(t, reason)
}

func TestEvaluateWriteAdminBypassesHumanApproval(t *testing.T) {
	g := NewGate(&fakeInstanceLookup{}, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierHumanApproval, IsAdmin: true})

	verdict, _, err := g.EvaluateWrite(context.Background(), "acme", "delete_repo", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictAllowed, verdict)
}

func TestEvaluateWriteRateLimitDeniesAfterBudgetExhausted(t *testing.T) {
	g := NewGate(&fakeInstanceLookup{}, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierAlwaysApprove, MaxCallsPerHour: 1})

	verdict1, _, err := g.EvaluateWrite(context.Background(), "acme", "read_file", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictAllowed, verdict1)

	verdict2, reason, err := g.EvaluateWrite(context.Background(), "acme", "read_file", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictDenied, verdict2)
	assert.Contains(t, reason, "rate limit")
}

func TestEvaluateReadTaintsFolderAndEscalatesAlwaysApprove(t *testing.T) {
	lookup := &fakeInstanceLookup{byInstance: map[string]string{"inst-1": "acme"}}
	g := NewGate(lookup, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierAlwaysApprove})

	require.NoError(t, g.EvaluateRead(context.Background(), "inst-1"))

	verdict, _, err := g.EvaluateWrite(context.Background(), "acme", "send_email", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictNeedsHuman, verdict)
}

func TestEvaluateReadUnknownInstanceErrors(t *testing.T) {
	g := NewGate(&fakeInstanceLookup{}, nil)
	err := g.EvaluateRead(context.Background(), "nope")
	assert.Error(t, err)
}

func TestResetTaintClearsEscalation(t *testing.T) {
	lookup := &fakeInstanceLookup{byInstance: map[string]string{"inst-1": "acme"}}
	g := NewGate(lookup, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierAlwaysApprove})

	require.NoError(t, g.EvaluateRead(context.Background(), "inst-1"))
	g.ResetTaint("acme")

	verdict, _, err := g.EvaluateWrite(context.Background(), "acme", "send_email", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictAllowed, verdict)
}

func TestRulesEngineTierAllowsUntaintedSuspiciousTool(t *testing.T) {
	g := NewGate(&fakeInstanceLookup{}, nil)
	g.SetWorkspacePolicy("acme", WorkspacePolicy{DefaultTier: TierRulesEngine})

	verdict, _, err := g.EvaluateWrite(context.Background(), "acme", "send_email", nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.VerdictAllowed, verdict)
}
