package router

import (
	"testing"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/stretchr/testify/assert"
)

func testCommandsConfig() config.CommandsConfig {
	return config.CommandsConfig{
		ResetVerbs:    []string{"reset", "new"},
		ResetNouns:    []string{"context", "chat", "session"},
		ResetAliases:  []string{"boom", "c"},
		EndVerbs:      []string{"end"},
		EndNouns:      []string{"session"},
		EndAliases:    []string{"done", "bye", "cya"},
		RedeployAlias: []string{"r", "redeploy", "deploy"},
	}
}

func TestMatchCommandRecognizesAliases(t *testing.T) {
	cmds := testCommandsConfig()
	assert.Equal(t, CommandReset, MatchCommand(cmds, "boom").Kind)
	assert.Equal(t, CommandEnd, MatchCommand(cmds, "bye").Kind)
	assert.Equal(t, CommandRedeploy, MatchCommand(cmds, "redeploy").Kind)
}

func TestMatchCommandAcceptsBothVerbNounOrderings(t *testing.T) {
	cmds := testCommandsConfig()
	assert.Equal(t, CommandReset, MatchCommand(cmds, "reset context").Kind)
	assert.Equal(t, CommandReset, MatchCommand(cmds, "context reset").Kind)
	assert.Equal(t, CommandEnd, MatchCommand(cmds, "end session").Kind)
	assert.Equal(t, CommandEnd, MatchCommand(cmds, "session end").Kind)
}

func TestMatchCommandParsesApproveDeny(t *testing.T) {
	cmds := testCommandsConfig()
	cmd := MatchCommand(cmds, "approve ab")
	assert.Equal(t, CommandApprove, cmd.Kind)
	assert.Equal(t, "ab", cmd.ShortID)

	cmd = MatchCommand(cmds, "DENY zz")
	assert.Equal(t, CommandDeny, cmd.Kind)
	assert.Equal(t, "zz", cmd.ShortID)
}

func TestMatchCommandReturnsNoneForOrdinaryText(t *testing.T) {
	cmds := testCommandsConfig()
	assert.Equal(t, CommandNone, MatchCommand(cmds, "summarize the logs").Kind)
}

func TestMatchesTriggerWordBoundary(t *testing.T) {
	assert.True(t, MatchesTrigger("pynchy", nil, "@pynchy summarize"))
	assert.True(t, MatchesTrigger("pynchy", []string{"py"}, "hey @py can you help"))
	assert.False(t, MatchesTrigger("pynchy", nil, "pynchy summarize")) // no @ prefix
	assert.False(t, MatchesTrigger("pynchy", nil, "@pynchybot summarize")) // not a word boundary
}
