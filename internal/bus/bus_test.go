package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInboundMessageKinds(t *testing.T) {
	root := &InboundMessage{TS: "1.1"}
	if root.IsReply() {
		t.Fatal("root message is not a reply")
	}
	broadcastRoot := &InboundMessage{TS: "1.1", ThreadTS: "1.1"}
	if broadcastRoot.IsReply() {
		t.Fatal("thread root with thread_ts is not a reply")
	}
	reply := &InboundMessage{TS: "1.2", ThreadTS: "1.1"}
	if !reply.IsReply() {
		t.Fatal("expected reply")
	}
	if !(&InboundMessage{ChannelType: "im"}).IsDirect() {
		t.Fatal("expected direct")
	}
}

func TestRunHandlesAndAcks(t *testing.T) {
	b := NewMessageBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	acks := map[string]error{}
	var wg sync.WaitGroup
	publish := func(id string) {
		wg.Add(1)
		err := b.PublishInbound(ctx, &InboundMessage{EventID: id, Ack: func(err error) {
			mu.Lock()
			acks[id] = err
			mu.Unlock()
			wg.Done()
		}})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	publish("ok")
	publish("bad")

	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, 2, func(ctx context.Context, msg *InboundMessage) error {
			if msg.EventID == "bad" {
				return errors.New("boom")
			}
			return nil
		})
	}()
	wg.Wait()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if acks["ok"] != nil {
		t.Fatalf("ok ack err = %v", acks["ok"])
	}
	if acks["bad"] == nil {
		t.Fatal("expected failed ack for bad message")
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	b := NewMessageBus(20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		_ = b.PublishInbound(ctx, &InboundMessage{Ack: func(error) { wg.Done() }})
	}
	go func() {
		_ = b.Run(ctx, 3, func(ctx context.Context, msg *InboundMessage) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}()
	wg.Wait()
	if got := peak.Load(); got > 3 {
		t.Fatalf("peak concurrency %d exceeds 3", got)
	}
}

func TestSemaphore(t *testing.T) {
	s := NewSemaphore(1)
	if !s.TryAcquire() {
		t.Fatal("expected first acquire")
	}
	if s.TryAcquire() {
		t.Fatal("expected second acquire to fail")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to time out")
	}
	s.Release()
	if s.Available() != 1 || s.Cap() != 1 {
		t.Fatalf("available=%d cap=%d", s.Available(), s.Cap())
	}
}

func TestRunHandlersOutliveCancel(t *testing.T) {
	b := NewMessageBus(10)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error
	acked := make(chan error, 1)
	_ = b.PublishInbound(ctx, &InboundMessage{EventID: "slow", Ack: func(err error) { acked <- err }})

	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, 1, func(ctx context.Context, msg *InboundMessage) error {
			close(started)
			<-release
			handlerErr = ctx.Err()
			return handlerErr
		})
	}()
	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("run returned while a handler was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	if handlerErr != nil {
		t.Fatalf("handler context was cancelled: %v", handlerErr)
	}
	if err := <-acked; err != nil {
		t.Fatalf("expected successful ack, got %v", err)
	}
}

func TestRunAcksQueuedMessagesOnStop(t *testing.T) {
	b := NewMessageBus(10)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	acks := make(chan error, 2)
	_ = b.PublishInbound(ctx, &InboundMessage{EventID: "first", Ack: func(err error) { acks <- err }})

	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, 1, func(ctx context.Context, msg *InboundMessage) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	_ = b.PublishInbound(context.Background(), &InboundMessage{EventID: "queued", Ack: func(err error) { acks <- err }})
	cancel()
	close(release)
	<-done

	for i := 0; i < 2; i++ {
		select {
		case err := <-acks:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("unexpected ack error %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %d never acked", i)
		}
	}
	if b.InboundSize() != 0 {
		t.Fatalf("expected empty queue, got %d", b.InboundSize())
	}
}

func TestDrainAcksWithError(t *testing.T) {
	b := NewMessageBus(4)
	var got []error
	for i := 0; i < 2; i++ {
		_ = b.PublishInbound(context.Background(), &InboundMessage{Ack: func(err error) { got = append(got, err) }})
	}
	_ = b.PublishInbound(context.Background(), &InboundMessage{})
	b.drain(context.Canceled)
	if len(got) != 2 {
		t.Fatalf("expected 2 acks, got %d", len(got))
	}
	for _, err := range got {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled ack, got %v", err)
		}
	}
	if b.InboundSize() != 0 {
		t.Fatalf("expected empty queue, got %d", b.InboundSize())
	}
}

func TestWorkersReportsPool(t *testing.T) {
	b := NewMessageBus(4)
	if size, idle := b.Workers(); size != 0 || idle != 0 {
		t.Fatalf("expected empty pool before run, got %d/%d", idle, size)
	}
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	_ = b.PublishInbound(ctx, &InboundMessage{})
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, 2, func(context.Context, *InboundMessage) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if size, idle := b.Workers(); size != 2 || idle != 1 {
		t.Fatalf("expected 1 idle of 2, got %d/%d", idle, size)
	}
	close(release)
	cancel()
	<-done
	if size, _ := b.Workers(); size != 0 {
		t.Fatalf("expected pool cleared after run, got %d", size)
	}
}
