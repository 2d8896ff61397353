// Package metrics provides Prometheus collectors for the reclamation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/incinerator/resource"
)

// Finalization outcomes.
const (
	FinalizationCorrelated = "correlated"
	FinalizationUnrelated  = "unrelated"
	FinalizationNotStale   = "not_stale"
	FinalizationDuplicate  = "duplicate"
	FinalizationFault      = "fault"
)

// Sweep outcomes.
const (
	SweepSwept    = "swept"
	SweepRequeued = "requeued"
	SweepSkipped  = "skipped"
)

// Metrics tracks reclamation engine metrics.
//
// All metrics use the incinerator_ prefix. Every Record/Set method is safe to
// call on a nil *Metrics, so components can run without metrics.
type Metrics struct {
	// LoadersMarkedStale counts successful staleness transitions
	LoadersMarkedStale prometheus.Counter

	// Finalizations counts finalization notifications by outcome
	Finalizations *prometheus.CounterVec

	// Sweeps counts sweep attempts by outcome
	Sweeps *prometheus.CounterVec

	// HandlesReleased counts released resource handles by kind
	HandlesReleased *prometheus.CounterVec

	// HandleReleaseFailures counts failed handle releases by kind
	HandleReleaseFailures *prometheus.CounterVec

	// QueueDepth tracks loaders waiting in the sweep queue
	QueueDepth prometheus.Gauge

	// SweepDuration tracks per-loader sweep latency
	SweepDuration prometheus.Histogram

	// EngineAvailable is 1 when the reclamation backend passed its probe
	EngineAvailable prometheus.Gauge
}

// New creates engine metrics registered on reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadersMarkedStale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "incinerator_loaders_marked_stale_total",
				Help: "Total class loaders transitioned to stale",
			},
		),
		Finalizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incinerator_finalizations_total",
				Help: "Total finalization notifications by outcome",
			},
			[]string{"outcome"},
		),
		Sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incinerator_sweeps_total",
				Help: "Total loader sweeps by outcome",
			},
			[]string{"outcome"}, // "swept", "requeued", "skipped"
		),
		HandlesReleased: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incinerator_handles_released_total",
				Help: "Total resource handles released by kind",
			},
			[]string{"kind"},
		),
		HandleReleaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incinerator_handle_release_failures_total",
				Help: "Total failed resource handle releases by kind",
			},
			[]string{"kind"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "incinerator_sweep_queue_depth",
				Help: "Current number of loaders waiting to be swept",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "incinerator_sweep_duration_seconds",
				Help:    "Per-loader sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		EngineAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "incinerator_engine_available",
				Help: "1 if the reclamation backend is available, 0 otherwise",
			},
		),
	}

	reg.MustRegister(
		m.LoadersMarkedStale,
		m.Finalizations,
		m.Sweeps,
		m.HandlesReleased,
		m.HandleReleaseFailures,
		m.QueueDepth,
		m.SweepDuration,
		m.EngineAvailable,
	)

	return m
}

// RecordMark records a staleness transition.
func (m *Metrics) RecordMark() {
	if m == nil {
		return
	}
	m.LoadersMarkedStale.Inc()
}

// RecordFinalization records a finalization notification outcome.
func (m *Metrics) RecordFinalization(outcome string) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(outcome).Inc()
}

// RecordSweep records a sweep completion.
func (m *Metrics) RecordSweep(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Sweeps.WithLabelValues(outcome).Inc()
	m.SweepDuration.Observe(durationSeconds)
}

// SetQueueDepth records the current sweep queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetAvailable records the result of the availability probe.
func (m *Metrics) SetAvailable(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.EngineAvailable.Set(1)
	} else {
		m.EngineAvailable.Set(0)
	}
}

// OnResourceEvent counts handle releases. It lets Metrics be attached
// directly as a resource table observer.
func (m *Metrics) OnResourceEvent(e resource.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case resource.EventReleased:
		m.HandlesReleased.WithLabelValues(e.Kind.String()).Inc()
	case resource.EventReleaseFailed:
		m.HandleReleaseFailures.WithLabelValues(e.Kind.String()).Inc()
	}
}
