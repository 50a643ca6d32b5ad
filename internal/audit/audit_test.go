package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/threadrelay/internal/routing"
	"github.com/segmentio/kafka-go"
)

type recordingPoster struct {
	targets []routing.ThreadRef
	texts   []string
	err     error
}

func (p *recordingPoster) Post(ctx context.Context, target routing.ThreadRef, text string) (routing.ThreadRef, error) {
	if p.err != nil {
		return routing.ThreadRef{}, p.err
	}
	p.targets = append(p.targets, target)
	p.texts = append(p.texts, text)
	return routing.ThreadRef{Channel: target.Channel, TS: "9.9"}, nil
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Notification) error { return errors.New("sink down") }

func sampleNotification() Notification {
	return Notification{
		Side:          SideDerivative,
		OriginKey:     "100.1",
		OriginChannel: "C1",
		Permalink:     "https://example.slack.com/archives/C1/p1001",
		SenderID:      "U2",
		SenderName:    "Bea",
		Targets:       []routing.ThreadRef{{Channel: "C1", TS: "100.1"}},
	}
}

func TestChannelNotifierPostsSummary(t *testing.T) {
	p := &recordingPoster{}
	n := NewChannelNotifier(p, "CAUDIT")
	if err := n.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(p.targets) != 1 || p.targets[0] != (routing.ThreadRef{Channel: "CAUDIT"}) {
		t.Fatalf("targets = %#v", p.targets)
	}
	if !strings.Contains(p.texts[0], "Bea") || !strings.Contains(p.texts[0], "p1001") {
		t.Fatalf("summary = %q", p.texts[0])
	}
}

func TestChannelNotifierWithoutChannelIsNoop(t *testing.T) {
	p := &recordingPoster{}
	if err := NewChannelNotifier(p, " ").Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(p.targets) != 0 {
		t.Fatal("expected no post")
	}
}

func TestFormatSummaryWithoutPermalink(t *testing.T) {
	n := sampleNotification()
	n.Side = SideOrigin
	n.Permalink = ""
	n.SenderName = ""
	n.Failed = 1
	got := FormatSummary(n)
	for _, want := range []string{"U2", "origin thread", "(1 failed)", "C1/100.1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary %q missing %q", got, want)
		}
	}
}

func TestKafkaNotifierKeysByOrigin(t *testing.T) {
	w := &recordingWriter{}
	k := &KafkaNotifier{writer: w, topic: "relay.audit"}
	if err := k.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "100.1" {
		t.Fatalf("messages = %#v", w.msgs)
	}
	var decoded Notification
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Side != SideDerivative || decoded.SenderID != "U2" {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	if _, err := NewKafkaNotifier("", "topic"); err == nil {
		t.Fatal("expected broker error")
	}
	if _, err := NewKafkaNotifier("localhost:9092", ""); err == nil {
		t.Fatal("expected topic error")
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	p := &recordingPoster{}
	m := Multi{failingNotifier{}, NewChannelNotifier(p, "CAUDIT"), nil}
	err := m.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("err = %v", err)
	}
	if len(p.targets) != 1 {
		t.Fatal("healthy sink must still receive the notification")
	}
}
