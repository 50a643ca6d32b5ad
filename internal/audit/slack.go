package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/threadrelay/internal/routing"
)

// Poster posts a message into a conversation or thread.
type Poster interface {
	Post(ctx context.Context, target routing.ThreadRef, text string) (routing.ThreadRef, error)
}

// ChannelNotifier posts a summary line into an audit channel.
type ChannelNotifier struct {
	poster  Poster
	channel string
}

func NewChannelNotifier(poster Poster, channel string) *ChannelNotifier {
	return &ChannelNotifier{poster: poster, channel: strings.TrimSpace(channel)}
}

func (c *ChannelNotifier) Notify(ctx context.Context, n Notification) error {
	if c.channel == "" {
		return nil
	}
	_, err := c.poster.Post(ctx, routing.ThreadRef{Channel: c.channel}, FormatSummary(n))
	if err != nil {
		return fmt.Errorf("audit channel %s: %w", c.channel, err)
	}
	return nil
}

// FormatSummary renders a notification as a single chat message.
func FormatSummary(n Notification) string {
	who := n.SenderName
	if who == "" {
		who = n.SenderID
	}
	var b strings.Builder
	switch n.Side {
	case SideOrigin:
		fmt.Fprintf(&b, "%s replied on the origin thread; relayed to %d recipient thread(s)", who, len(n.Targets))
	default:
		fmt.Fprintf(&b, "%s replied from a recipient thread; relayed to %d thread(s)", who, len(n.Targets))
	}
	if n.Failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", n.Failed)
	}
	if n.Permalink != "" {
		fmt.Fprintf(&b, "\n<%s|origin message>", n.Permalink)
	} else {
		fmt.Fprintf(&b, "\norigin %s/%s", n.OriginChannel, n.OriginKey)
	}
	return b.String()
}
