package relay

import (
	"fmt"
	"strings"

	"github.com/KafClaw/threadrelay/internal/routing"
)

// FormatOriginPayload is the message each recipient receives.
func FormatOriginPayload(senderName, text string) string {
	return fmt.Sprintf("Message from *%s*:\n%s", senderName, strings.TrimSpace(text))
}

// FormatRelayedReply prefixes a reply with its author.
func FormatRelayedReply(senderName, text string) string {
	return fmt.Sprintf("*%s*: %s", senderName, strings.TrimSpace(text))
}

// FormatConfirmation lists the recipients an origin message was routed to.
func FormatConfirmation(delivered []routing.Delivery) string {
	names := make([]string, 0, len(delivered))
	for _, d := range delivered {
		names = append(names, d.Recipient)
	}
	return "Routed to: " + strings.Join(names, ", ")
}

// FormatUnresolvedNotice lists the recipients that could not be reached.
func FormatUnresolvedNotice(unresolved []string) string {
	return "Could not route to: " + strings.Join(unresolved, ", ")
}
