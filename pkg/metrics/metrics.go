// Package metrics exposes Prometheus collectors for the scheduler, workers and healing loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowmedic"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	executionsEnqueued *prometheus.CounterVec
	executionsTerminal *prometheus.CounterVec
	dispatchAttempts   *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	queueDepth         prometheus.Gauge

	classifications *prometheus.CounterVec
	healingOutcomes *prometheus.CounterVec
	healingSkipped  *prometheus.CounterVec
	healingCycles   *prometheus.CounterVec

	eventsDropped   *prometheus.CounterVec
	alertsTriggered *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executionsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_enqueued_total",
			Help:      "Executions accepted by the scheduler.",
		}, []string{"priority", "mode"}),
		executionsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_terminal_total",
			Help:      "Executions that reached a terminal status.",
		}, []string{"status"}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Calls to the engine execute endpoint by outcome.",
		}, []string{"outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time from dispatch to terminal status.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Failures classified by error type.",
		}, []string{"error_type"}),
		healingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_outcomes_total",
			Help:      "Healing attempts by outcome.",
		}, []string{"outcome"}),
		healingSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_skipped_total",
			Help:      "Failures the healing loop did not act on, by reason.",
		}, []string{"reason"}),
		healingCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_cycles_total",
			Help:      "Healing loop ticks by result.",
		}, []string{"result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events that could not be published.",
		}, []string{"event_type"}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alert rules that fired.",
		}, []string{"rule"}),
	}

	m.registry.MustRegister(
		m.executionsEnqueued,
		m.executionsTerminal,
		m.dispatchAttempts,
		m.executionDuration,
		m.queueDepth,
		m.classifications,
		m.healingOutcomes,
		m.healingSkipped,
		m.healingCycles,
		m.eventsDropped,
		m.alertsTriggered,
	)

	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ExecutionEnqueued(priority, mode string) {
	if m == nil {
		return
	}

	m.executionsEnqueued.WithLabelValues(priority, mode).Inc()
}

func (m *Metrics) ExecutionTerminal(status string, durationSeconds float64) {
	if m == nil {
		return
	}

	m.executionsTerminal.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(durationSeconds)
}

func (m *Metrics) DispatchAttempt(outcome string) {
	if m == nil {
		return
	}

	m.dispatchAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}

	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) Classified(errorType string) {
	if m == nil {
		return
	}

	m.classifications.WithLabelValues(errorType).Inc()
}

func (m *Metrics) HealingOutcome(outcome string) {
	if m == nil {
		return
	}

	m.healingOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HealingSkipped(reason string) {
	if m == nil {
		return
	}

	m.healingSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) HealingCycle(result string) {
	if m == nil {
		return
	}

	m.healingCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}

	m.eventsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) AlertTriggered(rule string) {
	if m == nil {
		return
	}

	m.alertsTriggered.WithLabelValues(rule).Inc()
}
