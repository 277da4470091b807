// Package metrics exposes monitor counters and gauges to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fimwatch"

// Metrics owns a private registry so tests and multiple monitors in one
// process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	findingsTotal    *prometheus.CounterVec
	throttledTotal   prometheus.Counter
	dispatchTotal    *prometheus.CounterVec
	reconcileSeconds prometheus.Histogram
	baselineEntries  prometheus.Gauge
	baselineSkipped  prometheus.Gauge
	pendingMoves     prometheus.Gauge
	throttleTracked  prometheus.Gauge
	state            *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Raw watch events received, by kind.",
		}, []string{"kind"}),
		findingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Classified findings, by kind, severity and source.",
		}, []string{"kind", "severity", "source"}),
		throttledTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_throttled_total",
			Help:      "Findings suppressed by the per-path throttle.",
		}),
		dispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dispatched_total",
			Help:      "Alert dispatch attempts, by result.",
		}, []string{"result"}),
		reconcileSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time taken by reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		baselineEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_entries",
			Help:      "Files in the committed baseline.",
		}),
		baselineSkipped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_skipped_files",
			Help:      "Files that could not be hashed when the baseline was built.",
		}),
		pendingMoves: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_moves",
			Help:      "Move halves waiting for their partner.",
		}),
		throttleTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throttle_tracked_paths",
			Help:      "Paths with live throttle state.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current coordinator state (1 for the active state).",
		}, []string{"state"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Finding(kind, severity, source string) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(kind, severity, source).Inc()
}

func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}

// Dispatched counts one dispatch attempt.
func (m *Metrics) Dispatched(delivered bool) {
	if m == nil {
		return
	}
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.dispatchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconciled(took time.Duration) {
	if m == nil {
		return
	}
	m.reconcileSeconds.Observe(took.Seconds())
}

func (m *Metrics) Baseline(entries, skipped int) {
	if m == nil {
		return
	}
	m.baselineEntries.Set(float64(entries))
	m.baselineSkipped.Set(float64(skipped))
}

// Gauges records the sizes of the move buffer and throttle table.
func (m *Metrics) Gauges(pendingMoves, throttled int) {
	if m == nil {
		return
	}
	m.pendingMoves.Set(float64(pendingMoves))
	m.throttleTracked.Set(float64(throttled))
}

// State marks current as the active state among all.
func (m *Metrics) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}
