// Package bus queues inbound chat events for the relay workers.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InboundMessage is one normalized message event from the chat platform.
type InboundMessage struct {
	EventID     string    `json:"event_id,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	ChannelID   string    `json:"channel_id"`
	ChannelType string    `json:"channel_type,omitempty"`
	SenderID    string    `json:"sender_id,omitempty"`
	BotID       string    `json:"bot_id,omitempty"`
	SubType     string    `json:"subtype,omitempty"`
	Text        string    `json:"text"`
	TS          string    `json:"ts"`
	ThreadTS    string    `json:"thread_ts,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Ack, when set, is called once with the handling result. Transports use
	// it to withhold acknowledgement of events that failed.
	Ack func(err error) `json:"-"`
}

// IsReply reports whether the message was posted inside a thread rather
// than being a thread root.
func (m *InboundMessage) IsReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// IsDirect reports whether the message was posted in a direct conversation.
func (m *InboundMessage) IsDirect() bool {
	return m.ChannelType == "im"
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg *InboundMessage) error

// MessageBus decouples the platform listeners from the relay workers.
type MessageBus struct {
	inbound chan *InboundMessage
	mu      sync.RWMutex
	running bool
	sem     *Semaphore
}

// NewMessageBus creates a bus holding up to size pending messages.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 100
	}
	return &MessageBus{inbound: make(chan *InboundMessage, size)}
}

// PublishInbound queues a message, blocking while the queue is full.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run consumes messages until ctx is cancelled, handling up to workers of
// them at once. Handlers run on a context that ctx's cancellation does not
// reach, so a message taken off the queue is always handled to the end. Run
// waits for those handlers, then acks every message still queued with ctx's
// error before returning.
func (b *MessageBus) Run(ctx context.Context, workers int, handle Handler) error {
	sem := NewSemaphore(workers)
	b.mu.Lock()
	b.running = true
	b.sem = sem
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.sem = nil
		b.mu.Unlock()
	}()

	handleCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		b.drain(ctx.Err())
	}()
	for {
		msg, err := b.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		if !sem.TryAcquire() {
			slog.Debug("All relay workers busy", "workers", sem.Cap(), "queued", b.InboundSize())
			if err := sem.Acquire(ctx); err != nil {
				if msg.Ack != nil {
					msg.Ack(err)
				}
				return err
			}
		}
		wg.Add(1)
		go func(msg *InboundMessage) {
			defer wg.Done()
			defer sem.Release()
			err := handle(handleCtx, msg)
			if err != nil {
				slog.Warn("Inbound message not processed", "event_id", msg.EventID, "trace_id", msg.TraceID, "error", err)
			}
			if msg.Ack != nil {
				msg.Ack(err)
			}
		}(msg)
	}
}

// drain empties the queue, acking each message with err.
func (b *MessageBus) drain(err error) {
	for {
		select {
		case msg := <-b.inbound:
			slog.Debug("Queued message dropped at shutdown", "event_id", msg.EventID)
			if msg.Ack != nil {
				msg.Ack(err)
			}
		default:
			return
		}
	}
}

// Running reports whether Run is active.
func (b *MessageBus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Workers returns the pool size and the number of idle workers. Both are
// zero while Run is not active.
func (b *MessageBus) Workers() (size, idle int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sem == nil {
		return 0, 0
	}
	return b.sem.Cap(), b.sem.Available()
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}
