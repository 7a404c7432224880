package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Inbound messages by link kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	dispatchRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_media_relayed_total",
			Help: "Media items relayed by link kind.",
		},
		[]string{"kind"},
	)

	dispatchLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time to handle an inbound message, by link kind.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(dispatchTotal, dispatchRelayed, dispatchLat)
}

// LogObserver logs every Result with zerolog and records it in Prometheus.
// Ignored messages are counted but not logged.
type LogObserver struct {
	Logger *zerolog.Logger // nil uses the global logger
}

// Observe implements Observer.
func (o LogObserver) Observe(_ context.Context, r Result) {
	kind := r.Link.Kind.String()
	dispatchTotal.WithLabelValues(kind, string(r.Outcome)).Inc()
	if r.Outcome == OutcomeIgnored {
		return
	}
	dispatchLat.WithLabelValues(kind).Observe(r.Duration.Seconds())
	if r.Relayed > 0 {
		dispatchRelayed.WithLabelValues(kind).Add(float64(r.Relayed))
	}

	lg := o.Logger
	if lg == nil {
		lg = &log.Logger
	}
	var ev *zerolog.Event
	switch r.Outcome {
	case OutcomeFailed:
		ev = lg.Error().Err(r.Err)
	case OutcomeEmptyCache:
		ev = lg.Warn().Err(r.Err)
	case OutcomeRelayed:
		ev = lg.Info()
	default:
		ev = lg.Debug()
	}
	ev = ev.Int64("chat_id", r.ChatID).
		Str("kind", kind).
		Str("outcome", string(r.Outcome)).
		Int("relayed", r.Relayed).
		Dur("latency", r.Duration)
	if r.Link.PostID != "" {
		ev = ev.Str("post_id", r.Link.PostID)
	}
	if r.Link.CommentID != 0 {
		ev = ev.Int64("comment_id", r.Link.CommentID)
	}
	ev.Msg("message handled")
}
