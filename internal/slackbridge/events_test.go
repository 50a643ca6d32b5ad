package slackbridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/threadrelay/internal/bus"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const testSecret = "signing-secret"

type recordingHandler struct {
	mu   sync.Mutex
	msgs []*bus.InboundMessage
	fail error
}

func (h *recordingHandler) handle(_ context.Context, msg *bus.InboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return h.fail
}

func (h *recordingHandler) setFail(err error) {
	h.mu.Lock()
	h.fail = err
	h.mu.Unlock()
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func newTestIntake(t *testing.T) (*Intake, *recordingHandler) {
	t.Helper()
	b := bus.NewMessageBus(10)
	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx, 2, h.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewIntake(b, time.Minute), h
}

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write([]byte("v0:" + ts + ":"))
	_, _ = mac.Write(body)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func messagePayload(eventID string, event map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"type":     "event_callback",
		"event_id": eventID,
		"event":    event,
	})
	return body
}

func TestEventsHandlerURLVerification(t *testing.T) {
	intake, _ := newTestIntake(t)
	h := NewEventsHandler(testSecret, intake)
	body, _ := json.Marshal(map[string]any{"type": "url_verification", "challenge": "abc123"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, body))
	if w.Code != http.StatusOK || w.Body.String() != "abc123" {
		t.Fatalf("expected challenge echo, got %d %q", w.Code, w.Body.String())
	}
}

func TestEventsHandlerRejectsBadSignature(t *testing.T) {
	intake, handler := newTestIntake(t)
	h := NewEventsHandler(testSecret, intake)
	body := messagePayload("Ev1", map[string]any{"type": "message", "channel": "C1", "ts": "1.1", "text": "x"})

	req := signedRequest(t, body)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	unsigned := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, unsigned)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned request, got %d", w.Code)
	}
	if handler.count() != 0 {
		t.Fatal("rejected requests must not reach the relay")
	}
}

func TestEventsHandlerRejectsGet(t *testing.T) {
	intake, _ := newTestIntake(t)
	h := NewEventsHandler(testSecret, intake)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestEventsHandlerDeliversAndDedupes(t *testing.T) {
	intake, handler := newTestIntake(t)
	h := NewEventsHandler(testSecret, intake)
	body := messagePayload("Ev123", map[string]any{
		"type":         "message",
		"channel":      "C123",
		"user":         "U123",
		"text":         "hello",
		"channel_type": "channel",
		"ts":           "1700000.001",
		"thread_ts":    "1700000.000",
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedRequest(t, body))
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, w.Code)
		}
	}
	if handler.count() != 1 {
		t.Fatalf("expected one handled event, got %d", handler.count())
	}
	got := handler.msgs[0]
	if got.EventID != "Ev123" || got.ChannelID != "C123" || got.ThreadTS != "1700000.000" || !got.IsReply() {
		t.Fatalf("unexpected normalized message %+v", got)
	}
}

func TestEventsHandlerFailureAllowsRedelivery(t *testing.T) {
	intake, handler := newTestIntake(t)
	h := NewEventsHandler(testSecret, intake)
	body := messagePayload("EvFail", map[string]any{"type": "message", "channel": "C1", "ts": "1.1", "text": "x"})

	handler.setFail(errors.New("store down"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, body))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on failure, got %d", w.Code)
	}

	handler.setFail(nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", w.Code)
	}
	if handler.count() != 2 {
		t.Fatalf("expected the event handled twice, got %d", handler.count())
	}
}

func TestEventsHandlerIgnoresOtherEvents(t *testing.T) {
	intake, handler := newTestIntake(t)
	h := NewEventsHandler(testSecret, intake)
	body := messagePayload("EvJoin", map[string]any{"type": "member_joined_channel", "channel": "C1", "user": "U1"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if handler.count() != 0 {
		t.Fatal("non-message events must not reach the relay")
	}
}

func TestNormalizeMessageEvent(t *testing.T) {
	if _, ok := normalizeMessageEvent("Ev", nil); ok {
		t.Fatal("nil event must be rejected")
	}
	if _, ok := normalizeMessageEvent("Ev", &slackevents.MessageEvent{Channel: "C1"}); ok {
		t.Fatal("event without ts must be rejected")
	}
	msg, ok := normalizeMessageEvent(" Ev ", &slackevents.MessageEvent{
		Channel:     "C1",
		ChannelType: "im",
		User:        "U1",
		BotID:       "B1",
		SubType:     "bot_message",
		TimeStamp:   "2.2",
		Text:        "hi",
	})
	if !ok {
		t.Fatal("expected event accepted")
	}
	if msg.EventID != "Ev" || !msg.IsDirect() || msg.IsReply() || msg.BotID != "B1" || msg.SubType != "bot_message" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSeenCacheStates(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newSeenCache(time.Minute)
	c.now = func() time.Time { return now }

	if c.Claim("a") != claimFresh {
		t.Fatal("expected fresh claim")
	}
	if c.Claim("a") != claimInFlight {
		t.Fatal("expected in-flight claim")
	}
	c.Done("a")
	if c.Claim("a") != claimHandled {
		t.Fatal("expected handled claim")
	}
	c.Claim("b")
	c.Release("b")
	if c.Claim("b") != claimFresh {
		t.Fatal("expected released key to be fresh again")
	}

	now = now.Add(2 * time.Minute)
	if c.Claim("a") != claimFresh {
		t.Fatal("expected expired key to be fresh")
	}
	if c.Claim("") != claimFresh || c.Claim("") != claimFresh {
		t.Fatal("empty keys are never deduplicated")
	}
}

func socketMessageEvent(eventID string, msg *slackevents.MessageEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			Data:       &slackevents.EventsAPICallbackEvent{EventID: eventID},
			InnerEvent: slackevents.EventsAPIInnerEvent{Type: "message", Data: msg},
		},
		Request: &socketmode.Request{Type: "events_api", EnvelopeID: "env-" + eventID},
	}
}

type ackRecorder struct {
	mu   sync.Mutex
	acks []string
	ch   chan string
}

func newAckRecorder() *ackRecorder { return &ackRecorder{ch: make(chan string, 10)} }

func (a *ackRecorder) ack(req socketmode.Request) {
	a.mu.Lock()
	a.acks = append(a.acks, req.EnvelopeID)
	a.mu.Unlock()
	a.ch <- req.EnvelopeID
}

func TestSocketRunnerAcksAfterHandling(t *testing.T) {
	intake, handler := newTestIntake(t)
	r := &SocketRunner{intake: intake}
	acks := newAckRecorder()

	r.handle(context.Background(), socketMessageEvent("Ev1", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "1.1", Text: "x"}), acks.ack)
	select {
	case id := <-acks.ch:
		if id != "env-Ev1" {
			t.Fatalf("unexpected ack %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected ack after successful handling")
	}
	if handler.count() != 1 {
		t.Fatalf("expected one handled event, got %d", handler.count())
	}
}

func TestSocketRunnerWithholdsAckOnFailure(t *testing.T) {
	intake, handler := newTestIntake(t)
	handler.setFail(errors.New("store down"))
	r := &SocketRunner{intake: intake}
	acks := newAckRecorder()

	r.handle(context.Background(), socketMessageEvent("Ev2", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "1.1"}), acks.ack)
	deadline := time.Now().Add(2 * time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case id := <-acks.ch:
		t.Fatalf("unexpected ack %q for failed event", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSocketRunnerAcksNonMessageEvents(t *testing.T) {
	intake, handler := newTestIntake(t)
	r := &SocketRunner{intake: intake}
	acks := newAckRecorder()

	evt := socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Request: &socketmode.Request{EnvelopeID: "env-cmd"},
	}
	r.handle(context.Background(), evt, acks.ack)
	if got := <-acks.ch; got != "env-cmd" {
		t.Fatalf("unexpected ack %q", got)
	}
	if handler.count() != 0 {
		t.Fatal("slash commands must not reach the relay")
	}
}
