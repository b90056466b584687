package router

import (
	"strings"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/models"
)

// accessBlocksDispatch reports whether the cascaded access mode forbids agent activation
// entirely — spec.md §4.1 step 1: "If access ∈ {read, write-only}, skip."
func accessBlocksDispatch(access string) bool {
	return access == "read" || access == "write-only"
}

// filterAllowedSenders drops messages whose sender is not in allowedUsers, honoring the
// "owner" and self-message ("is_from_me") wildcards.
func filterAllowedSenders(owner config.OwnerConfig, allowedUsers []string, msgs []models.Message) []models.Message {
	if len(allowedUsers) == 0 {
		return msgs
	}

	var out []models.Message
	for _, m := range msgs {
		if senderAllowed(owner, allowedUsers, m) {
			out = append(out, m)
		}
	}
	return out
}

func senderAllowed(owner config.OwnerConfig, allowedUsers []string, m models.Message) bool {
	for _, u := range allowedUsers {
		switch u {
		case "owner":
			if m.Sender == owner.Slack || m.Sender == owner.WhatsApp {
				return true
			}
		default:
			if m.IsFromMe && strings.EqualFold(u, "self") {
				return true
			}
			if strings.EqualFold(u, m.Sender) {
				return true
			}
		}
	}
	return false
}

// allSystemNotices reports whether every message in the batch is a context-seed system
// notice rather than a genuine trigger.
func allSystemNotices(msgs []models.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	for _, m := range msgs {
		if m.MessageType != models.MessageTypeSystemNotice {
			return false
		}
	}
	return true
}
