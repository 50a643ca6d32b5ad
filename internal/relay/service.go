package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/KafClaw/threadrelay/internal/bus"
	"github.com/KafClaw/threadrelay/internal/recipients"
	"github.com/KafClaw/threadrelay/internal/routing"
	"github.com/google/uuid"
)

// EventKind is how the service treated an inbound message.
type EventKind string

const (
	KindIgnored EventKind = "ignored"
	KindOrigin  EventKind = "origin"
	KindReply   EventKind = "reply"
)

// RoutingOutcome reports what happened to an origin message.
type RoutingOutcome struct {
	OriginKey string
	// Routable is false when the text carries no recipient block.
	Routable bool
	// Duplicate is set when the dedup guard skipped an already routed origin.
	Duplicate  bool
	Delivered  []routing.Delivery
	Unresolved []string
	Record     *routing.Record
}

// Result is returned by HandleMessage; exactly one of Routing or Relay is
// set unless the message was ignored.
type Result struct {
	Kind    EventKind
	Routing *RoutingOutcome
	Relay   *RelayOutcome
}

// Options configures a Service.
type Options struct {
	BotUserID string
	// OriginChannels limits where origin messages are accepted. Empty means
	// any conversation except direct messages.
	OriginChannels []string
	DedupOrigins   bool
	SendTimeout    time.Duration
}

// Service is the entry point the transport calls for every inbound message.
type Service struct {
	extractor  *recipients.Extractor
	dispatcher *Dispatcher
	replies    *ReplyRelay
	guard      *DedupGuard
	transport  Transport
	opts       Options
	origins    map[string]struct{}
}

func NewService(extractor *recipients.Extractor, dispatcher *Dispatcher, replies *ReplyRelay, guard *DedupGuard, transport Transport, opts Options) *Service {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	origins := make(map[string]struct{}, len(opts.OriginChannels))
	for _, ch := range opts.OriginChannels {
		if ch != "" {
			origins[ch] = struct{}{}
		}
	}
	return &Service{
		extractor:  extractor,
		dispatcher: dispatcher,
		replies:    replies,
		guard:      guard,
		transport:  transport,
		opts:       opts,
		origins:    origins,
	}
}

// HandleMessage routes one inbound message to the origin or reply path.
func (s *Service) HandleMessage(ctx context.Context, msg *bus.InboundMessage) (Result, error) {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	ctx = withLogger(ctx, slog.With("trace_id", msg.TraceID, "channel", msg.ChannelID, "ts", msg.TS))

	if MachineOriginated(msg, s.opts.BotUserID) {
		return Result{Kind: KindIgnored}, nil
	}
	switch msg.SubType {
	case "", "thread_broadcast", "file_share":
	default:
		return Result{Kind: KindIgnored}, nil
	}

	if msg.IsReply() {
		out, err := s.replies.OnReplyEvent(ctx, msg)
		if err != nil {
			return Result{Kind: KindReply}, err
		}
		return Result{Kind: KindReply, Relay: &out}, nil
	}
	if !s.acceptsOrigin(msg) {
		return Result{Kind: KindIgnored}, nil
	}
	out, err := s.OnOriginMessage(ctx, msg)
	if err != nil {
		return Result{Kind: KindOrigin}, err
	}
	return Result{Kind: KindOrigin, Routing: &out}, nil
}

// OnReplyEvent relays a reply; see ReplyRelay.
func (s *Service) OnReplyEvent(ctx context.Context, msg *bus.InboundMessage) (RelayOutcome, error) {
	return s.replies.OnReplyEvent(ctx, msg)
}

// OnOriginMessage extracts recipients from msg, dispatches it and tells the
// origin thread who was and was not reached.
func (s *Service) OnOriginMessage(ctx context.Context, msg *bus.InboundMessage) (RoutingOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	log := loggerFrom(ctx)
	out := RoutingOutcome{OriginKey: msg.TS}

	ids := s.extractor.Extract(msg.Text)
	if len(ids) == 0 {
		return out, nil
	}
	out.Routable = true

	if s.opts.DedupOrigins && s.guard != nil {
		seen, err := s.guard.Seen(ctx, msg.TS)
		if err != nil {
			return out, err
		}
		if seen {
			log.Info("Origin already routed; skipping", "origin_key", msg.TS)
			out.Duplicate = true
			return out, nil
		}
	}

	origin := routing.ThreadRef{Channel: msg.ChannelID, TS: msg.TS}
	payload := FormatOriginPayload(s.transport.UserDisplayName(ctx, msg.SenderID), msg.Text)
	res, err := s.dispatcher.Dispatch(ctx, origin, payload, ids)
	if err != nil {
		return out, err
	}
	out.Delivered = res.Delivered
	out.Unresolved = res.Unresolved
	out.Record = res.Record

	if len(res.Delivered) > 0 {
		s.surface(ctx, origin, FormatConfirmation(res.Delivered))
	}
	if len(res.Unresolved) > 0 {
		s.surface(ctx, origin, FormatUnresolvedNotice(res.Unresolved))
	}
	return out, nil
}

func (s *Service) surface(ctx context.Context, origin routing.ThreadRef, text string) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	if _, err := s.transport.Post(ctx, origin, text); err != nil {
		loggerFrom(ctx).Warn("Origin notice failed", "origin_key", origin.TS, "error", err)
	}
}

func (s *Service) acceptsOrigin(msg *bus.InboundMessage) bool {
	if len(s.origins) == 0 {
		return !msg.IsDirect()
	}
	_, ok := s.origins[msg.ChannelID]
	return ok
}
