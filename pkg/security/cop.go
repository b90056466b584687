package security

import "regexp"

// injectionPatterns are common prompt-injection phrasings seen in untrusted tool output —
// attempts to redirect the agent's own instructions rather than answer the tool call.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (all |any )?(previous|prior|above)`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)new (system )?instructions?:`),
	regexp.MustCompile(`(?i)reveal (your |the )?(system )?prompt`),
	regexp.MustCompile(`(?i)do not (tell|inform|notify) (the )?(user|human)`),
	regexp.MustCompile(`(?i)act as (if you|though you)`),
}

// Cop implements gateway.Inspector: a regex-based prompt-injection scanner run against text
// content returned by public_source MCP servers, mirroring the teacher's pkg/masking.Masker
// shape (Name + an applicability check) but flagging for replacement instead of redacting.
type Cop struct{}

// NewCop builds a Cop.
func NewCop() *Cop { return &Cop{} }

func (c *Cop) Name() string { return "prompt_injection_cop" }

// Flag reports whether text contains a recognizable prompt-injection attempt.
func (c *Cop) Flag(text string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
