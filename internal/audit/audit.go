// Package audit emits observer notifications about relayed replies.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/KafClaw/threadrelay/internal/routing"
)

// Side names which end of a routing record a reply came from.
type Side string

const (
	SideOrigin     Side = "origin"
	SideDerivative Side = "derivative"
)

// Notification describes one relayed reply.
type Notification struct {
	TraceID       string              `json:"trace_id,omitempty"`
	Side          Side                `json:"side"`
	OriginKey     string              `json:"origin_key"`
	OriginChannel string              `json:"origin_channel"`
	Permalink     string              `json:"permalink,omitempty"`
	SenderID      string              `json:"sender_id"`
	SenderName    string              `json:"sender_name,omitempty"`
	Text          string              `json:"text"`
	Source        routing.ThreadRef   `json:"source"`
	Targets       []routing.ThreadRef `json:"targets"`
	Failed        int                 `json:"failed"`
	At            time.Time           `json:"at"`
}

// Notifier delivers notifications to an observer sink.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to several sinks and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
