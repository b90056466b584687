package router

import (
	"regexp"
	"strings"

	"github.com/crypdick/pynchy/pkg/config"
)

// CommandKind discriminates the magic commands the router intercepts before agent activation.
type CommandKind string

const (
	CommandNone     CommandKind = ""
	CommandReset    CommandKind = "reset"
	CommandEnd      CommandKind = "end"
	CommandRedeploy CommandKind = "redeploy"
	CommandApprove  CommandKind = "approve"
	CommandDeny     CommandKind = "deny"
)

// Command is the result of matching one message's text against the magic-command grammar.
type Command struct {
	Kind    CommandKind
	ShortID string // set only for CommandApprove/CommandDeny
}

var approveDenyPattern = regexp.MustCompile(`(?i)^\s*(approve|deny)\s+([a-zA-Z0-9]{1,8})\s*$`)

// MatchCommand parses text against the configured reset/end/redeploy/approve/deny grammar.
// Both verb-noun orderings are accepted ("reset context" and "context reset"), alongside a
// flat alias list ("boom", "c", "r") — the exact grammar spec's open questions require
// preserving verbatim rather than extending.
func MatchCommand(cmds config.CommandsConfig, text string) Command {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Command{}
	}

	if m := approveDenyPattern.FindStringSubmatch(trimmed); m != nil {
		kind := CommandApprove
		if strings.EqualFold(m[1], "deny") {
			kind = CommandDeny
		}
		return Command{Kind: kind, ShortID: m[2]}
	}

	if matchesAliasOrVerbNoun(trimmed, cmds.ResetAliases, cmds.ResetVerbs, cmds.ResetNouns) {
		return Command{Kind: CommandReset}
	}
	if matchesAliasOrVerbNoun(trimmed, cmds.EndAliases, cmds.EndVerbs, cmds.EndNouns) {
		return Command{Kind: CommandEnd}
	}
	if matchesAlias(trimmed, cmds.RedeployAlias) {
		return Command{Kind: CommandRedeploy}
	}
	return Command{}
}

func matchesAlias(text string, aliases []string) bool {
	for _, a := range aliases {
		if strings.EqualFold(text, a) {
			return true
		}
	}
	return false
}

// matchesAliasOrVerbNoun accepts a flat alias match or an exact two-word verb+noun in
// either ordering ("reset context" / "context reset").
func matchesAliasOrVerbNoun(text string, aliases, verbs, nouns []string) bool {
	if matchesAlias(text, aliases) {
		return true
	}
	words := strings.Fields(strings.ToLower(text))
	if len(words) != 2 {
		return false
	}
	for _, v := range verbs {
		v = strings.ToLower(v)
		for _, n := range nouns {
			n = strings.ToLower(n)
			if (words[0] == v && words[1] == n) || (words[0] == n && words[1] == v) {
				return true
			}
		}
	}
	return false
}

// MatchesTrigger reports whether text mentions the agent by name or a configured alias at
// a word boundary, case-insensitively, in the form "@<name>".
func MatchesTrigger(agentName string, aliases []string, text string) bool {
	names := append([]string{agentName}, aliases...)
	for _, n := range names {
		if n == "" {
			continue
		}
		pattern := `(?i)(^|\W)@` + regexp.QuoteMeta(n) + `(\W|$)`
		if regexp.MustCompile(pattern).MatchString(text) {
			return true
		}
	}
	return false
}
