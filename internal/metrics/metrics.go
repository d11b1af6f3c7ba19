package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Save outcomes recorded by the coordinator.
const (
	OutcomeCommitted     = "committed"
	OutcomeConflict      = "conflict"
	OutcomeFetchFailed   = "fetch_failed"
	OutcomeReplaceFailed = "replace_failed"
	OutcomeCommitFailed  = "commit_failed"
)

// SaveMetrics holds the callback and save counters. A nil *SaveMetrics
// records nothing.
type SaveMetrics struct {
	saves        *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	events       *prometheus.CounterVec
}

// NewSaveMetrics creates the collectors and registers them on reg.
func NewSaveMetrics(reg prometheus.Registerer) (*SaveMetrics, error) {
	m := &SaveMetrics{
		saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docedit_saves_total",
				Help: "Save attempts by outcome.",
			},
			[]string{"outcome"},
		),
		saveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docedit_save_duration_seconds",
				Help:    "Time from claim to commit or rollback of a save.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docedit_callback_events_total",
				Help: "Callback events received by kind.",
			},
			[]string{"kind"},
		),
	}

	for _, c := range []prometheus.Collector{m.saves, m.saveDuration, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveSave counts a finished save and its duration.
func (m *SaveMetrics) ObserveSave(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome).Inc()
	m.saveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Conflict counts a save rejected before it started.
func (m *SaveMetrics) Conflict() {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(OutcomeConflict).Inc()
}

// Event counts an inbound callback event.
func (m *SaveMetrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}
