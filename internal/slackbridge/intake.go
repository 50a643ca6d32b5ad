package slackbridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/threadrelay/internal/bus"
	"github.com/slack-go/slack/slackevents"
)

// ErrInFlight is reported to a transport when a redelivered event is still
// being handled from an earlier delivery.
var ErrInFlight = errors.New("event already in flight")

// Intake normalizes Slack message events and publishes them on the bus,
// dropping redeliveries of events that were already handled.
type Intake struct {
	bus  *bus.MessageBus
	seen *seenCache
}

// NewIntake creates an intake that remembers handled event ids for ttl.
func NewIntake(b *bus.MessageBus, ttl time.Duration) *Intake {
	return &Intake{bus: b, seen: newSeenCache(ttl)}
}

// Submit publishes msg. settle is called exactly once: with nil when the
// event was handled or had been handled before, with an error otherwise.
func (in *Intake) Submit(ctx context.Context, msg *bus.InboundMessage, settle func(error)) error {
	switch in.seen.Claim(msg.EventID) {
	case claimHandled:
		slog.Debug("Duplicate Slack event dropped", "event_id", msg.EventID)
		settle(nil)
		return nil
	case claimInFlight:
		settle(ErrInFlight)
		return nil
	}
	msg.Ack = func(err error) {
		if err != nil {
			in.seen.Release(msg.EventID)
		} else {
			in.seen.Done(msg.EventID)
		}
		settle(err)
	}
	if err := in.bus.PublishInbound(ctx, msg); err != nil {
		in.seen.Release(msg.EventID)
		settle(err)
		return err
	}
	return nil
}

// normalizeMessageEvent maps a Slack message event onto the bus type.
// Events without a channel or timestamp are rejected.
func normalizeMessageEvent(eventID string, ev *slackevents.MessageEvent) (*bus.InboundMessage, bool) {
	if ev == nil {
		return nil, false
	}
	channel := strings.TrimSpace(ev.Channel)
	ts := strings.TrimSpace(ev.TimeStamp)
	if channel == "" || ts == "" {
		return nil, false
	}
	return &bus.InboundMessage{
		EventID:     strings.TrimSpace(eventID),
		ChannelID:   channel,
		ChannelType: strings.TrimSpace(ev.ChannelType),
		SenderID:    strings.TrimSpace(ev.User),
		BotID:       strings.TrimSpace(ev.BotID),
		SubType:     strings.TrimSpace(ev.SubType),
		Text:        ev.Text,
		TS:          ts,
		ThreadTS:    strings.TrimSpace(ev.ThreadTimeStamp),
		Timestamp:   time.Now(),
	}, true
}
