// Package metrics exposes relay counters for Prometheus.
package metrics

import (
	"time"

	"github.com/KafClaw/threadrelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadrelay_events_total",
			Help: "Inbound message events by handling kind and result",
		},
		[]string{"kind", "result"}, // result: ok, error
	)

	OriginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadrelay_origins_total",
			Help: "Origin messages by routing outcome",
		},
		[]string{"outcome"}, // routed, duplicate, unroutable
	)

	RecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadrelay_recipients_total",
			Help: "Recipients per dispatch by outcome",
		},
		[]string{"outcome"}, // delivered, unresolved
	)

	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadrelay_replies_total",
			Help: "Reply events by final state and side",
		},
		[]string{"state", "side", "reason"},
	)

	ReplyTargetFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadrelay_reply_target_failures_total",
			Help: "Fan-out sends that failed",
		},
	)

	HandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threadrelay_handle_duration_seconds",
			Help:    "Time spent handling one inbound event",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threadrelay_queue_depth",
			Help: "Inbound events waiting for a worker",
		},
	)
)

// Observe records the result of one HandleMessage call.
func Observe(res relay.Result, err error, elapsed time.Duration) {
	kind := string(res.Kind)
	if kind == "" {
		kind = string(relay.KindIgnored)
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsTotal.WithLabelValues(kind, result).Inc()
	HandleDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	if r := res.Routing; r != nil {
		switch {
		case r.Duplicate:
			OriginsTotal.WithLabelValues("duplicate").Inc()
		case !r.Routable:
			OriginsTotal.WithLabelValues("unroutable").Inc()
		default:
			OriginsTotal.WithLabelValues("routed").Inc()
			RecipientsTotal.WithLabelValues("delivered").Add(float64(len(r.Delivered)))
			RecipientsTotal.WithLabelValues("unresolved").Add(float64(len(r.Unresolved)))
		}
	}
	if r := res.Relay; r != nil {
		RepliesTotal.WithLabelValues(string(r.State), string(r.Side), string(r.DropReason)).Inc()
		ReplyTargetFailures.Add(float64(len(r.TargetsFailed)))
	}
}
