package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KafClaw/threadrelay/internal/audit"
	"github.com/KafClaw/threadrelay/internal/bus"
	"github.com/KafClaw/threadrelay/internal/routing"
)

// State is a step of the reply relay state machine.
type State string

const (
	StateUnclassified State = "unclassified"
	StateLocated      State = "located"
	StateClassified   State = "classified"
	StateRelayed      State = "relayed"
	StateDropped      State = "dropped"
)

// DropReason explains why a reply ended in StateDropped.
type DropReason string

const (
	DropMachineOriginated DropReason = "machine_originated"
	DropNoThread          DropReason = "no_thread"
	DropNoRecord          DropReason = "no_record"
)

// TargetFailure records one fan-out send that failed.
type TargetFailure struct {
	Target routing.ThreadRef
	Err    error
}

// RelayOutcome reports what happened to one reply event.
type RelayOutcome struct {
	State            State
	DropReason       DropReason
	Side             audit.Side
	OriginKey        string
	TargetsAttempted []routing.ThreadRef
	TargetsFailed    []TargetFailure
	Notified         bool
}

// Partial reports whether some, but not all, fan-out sends failed.
func (o RelayOutcome) Partial() bool {
	return len(o.TargetsFailed) > 0 && len(o.TargetsFailed) < len(o.TargetsAttempted)
}

// NotifyPolicy toggles observer notifications per reply side.
type NotifyPolicy struct {
	OriginReplies     bool
	DerivativeReplies bool
}

func (p NotifyPolicy) enabled(side audit.Side) bool {
	if side == audit.SideOrigin {
		return p.OriginReplies
	}
	return p.DerivativeReplies
}

// ReplyRelay copies replies between the sides of a routing record.
type ReplyRelay struct {
	store            routing.Store
	transport        Transport
	notifier         audit.Notifier
	policy           NotifyPolicy
	botUserID        string
	sendTimeout      time.Duration
	permalinkTimeout time.Duration
	now              func() time.Time
}

// ReplyRelayConfig configures a ReplyRelay. Notifier may be nil.
type ReplyRelayConfig struct {
	BotUserID        string
	Notifier         audit.Notifier
	Policy           NotifyPolicy
	SendTimeout      time.Duration
	PermalinkTimeout time.Duration
}

func NewReplyRelay(store routing.Store, transport Transport, cfg ReplyRelayConfig) *ReplyRelay {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.PermalinkTimeout <= 0 {
		cfg.PermalinkTimeout = 5 * time.Second
	}
	return &ReplyRelay{
		store:            store,
		transport:        transport,
		notifier:         cfg.Notifier,
		policy:           cfg.Policy,
		botUserID:        cfg.BotUserID,
		sendTimeout:      cfg.SendTimeout,
		permalinkTimeout: cfg.PermalinkTimeout,
		now:              time.Now,
	}
}

// OnReplyEvent runs one reply through the state machine. Only storage
// failures are returned as errors; send failures are listed in the outcome.
func (r *ReplyRelay) OnReplyEvent(ctx context.Context, msg *bus.InboundMessage) (RelayOutcome, error) {
	log := loggerFrom(ctx)
	out := RelayOutcome{State: StateUnclassified}

	if MachineOriginated(msg, r.botUserID) {
		return dropped(out, DropMachineOriginated), nil
	}
	if msg.ThreadTS == "" || msg.ChannelID == "" {
		return dropped(out, DropNoThread), nil
	}

	// From here every call carries its own timeout; cancelling the caller
	// does not stop the fan-out part way.
	ctx = context.WithoutCancel(ctx)

	source := routing.ThreadRef{Channel: msg.ChannelID, TS: msg.ThreadTS}
	rec, err := r.locate(ctx, source)
	if errors.Is(err, routing.ErrNotFound) {
		log.Debug("Reply has no routing record", "thread", source.String())
		return dropped(out, DropNoRecord), nil
	}
	if err != nil {
		return out, err
	}
	out.State = StateLocated
	out.OriginKey = rec.OriginKey

	plan := PlanFanOut(rec, source)
	out.State = StateClassified
	out.Side = plan.Side

	senderName := r.transport.UserDisplayName(ctx, msg.SenderID)
	text := FormatRelayedReply(senderName, msg.Text)
	for _, target := range plan.Targets {
		out.TargetsAttempted = append(out.TargetsAttempted, target)
		if err := r.post(ctx, target, text); err != nil {
			log.Warn("Reply fan-out send failed", "origin_key", rec.OriginKey, "target", target.String(), "error", err)
			out.TargetsFailed = append(out.TargetsFailed, TargetFailure{Target: target, Err: err})
		}
	}
	out.State = StateRelayed

	if r.notifier != nil && r.policy.enabled(plan.Side) {
		out.Notified = r.notify(ctx, rec, plan, msg, senderName, len(out.TargetsFailed))
	}

	if len(out.TargetsFailed) > 0 {
		log.Warn("Reply relayed with failures", "origin_key", rec.OriginKey, "side", plan.Side,
			"attempted", len(out.TargetsAttempted), "failed", len(out.TargetsFailed))
	} else {
		log.Info("Reply relayed", "origin_key", rec.OriginKey, "side", plan.Side, "targets", len(out.TargetsAttempted))
	}
	return out, nil
}

// locate finds the record for a reply thread: first as an origin thread,
// then as a derived thread. A record found by key only counts when the reply
// is in that record's origin conversation.
func (r *ReplyRelay) locate(ctx context.Context, source routing.ThreadRef) (*routing.Record, error) {
	rec, err := r.store.Get(ctx, source.TS)
	switch {
	case err == nil && rec.OriginChannel == source.Channel:
		return rec, nil
	case err != nil && !errors.Is(err, routing.ErrNotFound):
		return nil, err
	}
	return r.store.FindByDerivedThread(ctx, source)
}

func (r *ReplyRelay) post(ctx context.Context, target routing.ThreadRef, text string) error {
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	_, err := r.transport.Post(ctx, target, text)
	return err
}

func (r *ReplyRelay) notify(ctx context.Context, rec *routing.Record, plan Plan, msg *bus.InboundMessage, senderName string, failed int) bool {
	log := loggerFrom(ctx)
	origin := routing.ThreadRef{Channel: rec.OriginChannel, TS: rec.OriginKey}

	lctx, cancel := context.WithTimeout(ctx, r.permalinkTimeout)
	link, err := r.transport.Permalink(lctx, origin)
	cancel()
	if err != nil {
		log.Debug("Origin permalink unavailable", "origin_key", rec.OriginKey, "error", err)
		link = ""
	}

	nctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	err = r.notifier.Notify(nctx, audit.Notification{
		TraceID:       msg.TraceID,
		Side:          plan.Side,
		OriginKey:     rec.OriginKey,
		OriginChannel: rec.OriginChannel,
		Permalink:     link,
		SenderID:      msg.SenderID,
		SenderName:    senderName,
		Text:          msg.Text,
		Source:        plan.Source,
		Targets:       plan.Targets,
		Failed:        failed,
		At:            r.now().UTC(),
	})
	if err != nil {
		log.Warn("Audit notification failed", "origin_key", rec.OriginKey, "error", err)
		return false
	}
	return true
}

func dropped(out RelayOutcome, reason DropReason) RelayOutcome {
	out.State = StateDropped
	out.DropReason = reason
	return out
}

// String renders the outcome for logs and the CLI.
func (o RelayOutcome) String() string {
	if o.State == StateDropped {
		return fmt.Sprintf("dropped (%s)", o.DropReason)
	}
	return fmt.Sprintf("%s %s reply for %s: %d attempted, %d failed", o.State, o.Side, o.OriginKey, len(o.TargetsAttempted), len(o.TargetsFailed))
}
