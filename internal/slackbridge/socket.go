package slackbridge

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SocketRunner receives events over Socket Mode. Message events are acked
// only once the relay handled them; everything else is acked on arrival.
type SocketRunner struct {
	client *socketmode.Client
	intake *Intake
}

func NewSocketRunner(client *socketmode.Client, intake *Intake) *SocketRunner {
	return &SocketRunner{client: client, intake: intake}
}

// Run holds the Socket Mode connection until ctx is cancelled.
func (r *SocketRunner) Run(ctx context.Context) error {
	go r.consume(ctx)
	return r.client.RunContext(ctx)
}

func (r *SocketRunner) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.client.Events:
			if !ok {
				return
			}
			r.handle(ctx, evt, func(req socketmode.Request) { r.client.Ack(req) })
		}
	}
}

func (r *SocketRunner) handle(ctx context.Context, evt socketmode.Event, ack func(socketmode.Request)) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Info("Slack socket mode connecting")
		return
	case socketmode.EventTypeConnected:
		slog.Info("Slack socket mode connected")
		return
	case socketmode.EventTypeConnectionError:
		slog.Warn("Slack socket mode connection error", "data", evt.Data)
		return
	case socketmode.EventTypeEventsAPI:
	default:
		if evt.Request != nil && evt.Request.EnvelopeID != "" {
			ack(*evt.Request)
		}
		return
	}
	if evt.Request == nil {
		return
	}
	req := *evt.Request

	ev, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || ev.Type != slackevents.CallbackEvent {
		ack(req)
		return
	}
	me, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		ack(req)
		return
	}
	var eventID string
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}
	msg, ok := normalizeMessageEvent(eventID, me)
	if !ok {
		ack(req)
		return
	}
	err := r.intake.Submit(ctx, msg, func(err error) {
		if err == nil {
			ack(req)
		}
	})
	if err != nil {
		slog.Warn("Slack event not queued", "event_id", eventID, "error", err)
	}
}
