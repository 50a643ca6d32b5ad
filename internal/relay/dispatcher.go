package relay

import (
	"context"
	"sort"
	"time"

	"github.com/KafClaw/threadrelay/internal/recipients"
	"github.com/KafClaw/threadrelay/internal/routing"
)

// DispatchResult is the outcome of one dispatch. Record is nil when no
// recipient could be reached, in which case nothing was persisted.
type DispatchResult struct {
	Record     *routing.Record
	Delivered  []routing.Delivery
	Unresolved []string
}

// Dispatcher opens a thread per resolved recipient, sends the payload and
// persists the resulting routing record.
type Dispatcher struct {
	resolver    *recipients.Resolver
	transport   Transport
	store       routing.Store
	sendTimeout time.Duration
}

func NewDispatcher(resolver *recipients.Resolver, transport Transport, store routing.Store, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{resolver: resolver, transport: transport, store: store, sendTimeout: sendTimeout}
}

// Dispatch relays payload to every recipient it can reach. A recipient whose
// conversation or send fails is demoted to unresolved; the others proceed.
// Only a storage failure is returned as an error. Cancelling ctx does not
// interrupt a dispatch; lookups, sends and the store write are each bounded
// by their own timeout, so sent messages are always recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, origin routing.ThreadRef, payload string, ids recipients.Set) (*DispatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := loggerFrom(ctx)
	resolved, unresolved := d.resolver.Resolve(ctx, ids)

	res := &DispatchResult{}
	for _, r := range resolved {
		thread, err := d.deliver(ctx, r.Endpoint, payload)
		if err != nil {
			log.Warn("Dispatch send failed", "recipient", r.Recipient, "endpoint", r.Endpoint, "error", err)
			unresolved = append(unresolved, r.Recipient)
			continue
		}
		res.Delivered = append(res.Delivered, routing.Delivery{
			Recipient: r.Recipient,
			Endpoint:  string(r.Endpoint),
			Thread:    thread,
		})
	}
	sort.Strings(unresolved)
	res.Unresolved = unresolved

	if len(res.Delivered) == 0 {
		log.Info("Origin fully unresolved; no routing record", "origin_key", origin.TS, "unresolved", len(unresolved))
		return res, nil
	}

	rec := &routing.Record{
		OriginKey:     origin.TS,
		OriginChannel: origin.Channel,
		Deliveries:    res.Delivered,
		Unresolved:    unresolved,
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	res.Record = rec
	log.Info("Origin dispatched", "origin_key", rec.OriginKey, "delivered", len(rec.Deliveries), "unresolved", len(rec.Unresolved))
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, endpoint recipients.Endpoint, payload string) (routing.ThreadRef, error) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	channel, err := d.transport.OpenConversation(ctx, endpoint)
	if err != nil {
		return routing.ThreadRef{}, err
	}
	return d.transport.Post(ctx, routing.ThreadRef{Channel: channel}, payload)
}
