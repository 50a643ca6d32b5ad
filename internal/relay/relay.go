// Package relay fans origin messages out to per-recipient threads and keeps
// replies on every side of a routing record in sync.
package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/KafClaw/threadrelay/internal/bus"
	"github.com/KafClaw/threadrelay/internal/recipients"
	"github.com/KafClaw/threadrelay/internal/routing"
)

// ErrPermalinkUnavailable is returned by a Transport that cannot produce a
// link for a message.
var ErrPermalinkUnavailable = errors.New("permalink unavailable")

// Transport is the subset of the chat platform the relay sends through.
type Transport interface {
	// OpenConversation returns the direct conversation with endpoint.
	OpenConversation(ctx context.Context, endpoint recipients.Endpoint) (string, error)
	// Post sends text to target.Channel, threaded under target.TS when set,
	// and returns the ref of the new message.
	Post(ctx context.Context, target routing.ThreadRef, text string) (routing.ThreadRef, error)
	Permalink(ctx context.Context, ref routing.ThreadRef) (string, error)
	// UserDisplayName never fails; it falls back to the raw user id.
	UserDisplayName(ctx context.Context, userID string) string
}

// MachineOriginated reports whether msg was sent by a bot, including this
// relay itself.
func MachineOriginated(msg *bus.InboundMessage, botUserID string) bool {
	if msg.BotID != "" || msg.SubType == "bot_message" {
		return true
	}
	return botUserID != "" && msg.SenderID == botUserID
}

type loggerKey struct{}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
