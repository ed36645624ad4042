package deploy

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600}

// Metrics tracks coordinator activity. A nil *Metrics records nothing.
type Metrics struct {
	started             prometheus.Counter
	finished            *prometheus.CounterVec
	duration            prometheus.Histogram
	active              prometheus.Gauge
	persistenceFailures *prometheus.CounterVec
	executorPanics      prometheus.Counter
	reconciled          prometheus.Counter
}

// NewMetrics registers the coordinator collectors with reg. Collectors that
// are already registered are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "started_total",
			Help:      "Deployments started",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "finished_total",
			Help:      "Deployments that reached a terminal status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "duration_seconds",
			Help:      "Wall time from start to terminal status",
			Buckets:   durationBuckets,
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "active",
			Help:      "Deployments currently running in this process",
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "persistence_failures_total",
			Help:      "Store writes that failed while finishing a deployment",
		}, []string{"operation"}),
		executorPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "executor_panics_total",
			Help:      "Executor panics recovered by the coordinator",
		}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "deployments",
			Name:      "reconciled_total",
			Help:      "Orphaned deployments sealed by the reconciler",
		}),
	}
	if reg == nil {
		return m
	}
	m.started = register(reg, m.started)
	m.finished = register(reg, m.finished)
	m.duration = register(reg, m.duration)
	m.active = register(reg, m.active)
	m.persistenceFailures = register(reg, m.persistenceFailures)
	m.executorPanics = register(reg, m.executorPanics)
	m.reconciled = register(reg, m.reconciled)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) runFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.finished.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) persistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) executorPanic() {
	if m == nil {
		return
	}
	m.executorPanics.Inc()
}

func (m *Metrics) orphanSealed() {
	if m == nil {
		return
	}
	m.reconciled.Inc()
}
