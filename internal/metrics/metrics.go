// Package metrics defines the Prometheus instrumentation for recalld.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all recalld collectors. Create one per process and share it
// by reference; registering twice on the same registerer panics.
type Metrics struct {
	// RecognitionFrames counts processed face_data frames by outcome:
	// matched, unmatched, no_face, dropped.
	RecognitionFrames *prometheus.CounterVec

	// MatchDuration observes the extract-and-match latency in seconds.
	MatchDuration prometheus.Histogram

	// ActiveSessions tracks currently registered live connections.
	ActiveSessions prometheus.Gauge

	// BroadcastFailures counts per-session delivery failures.
	BroadcastFailures prometheus.Counter

	// RemoteWriteFailures counts best-effort remote write-through
	// failures by operation: upsert_person, upsert_embedding, delete.
	RemoteWriteFailures *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecognitionFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recalld_recognition_frames_total",
			Help: "Processed face_data frames by outcome (matched, unmatched, no_face, dropped).",
		}, []string{"outcome"}),

		MatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recalld_match_duration_seconds",
			Help:    "End-to-end extract-and-match latency per frame.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recalld_active_sessions",
			Help: "Currently registered live recognition sessions.",
		}),

		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "recalld_broadcast_failures_total",
			Help: "Per-session broadcast delivery failures (each also unregisters the session).",
		}),

		RemoteWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recalld_remote_write_failures_total",
			Help: "Best-effort remote store write-through failures by operation.",
		}, []string{"operation"}),
	}
}
