package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
)

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		reg := r.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		r.requestTotal = registerVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}))

		r.requestLatency = registerVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deploykit",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers. Streams are observed once they close.",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}))

		r.rateLimitHits = registerVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploykit",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"}))

		r.openStreams = registerVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deploykit",
			Subsystem: "api",
			Name:      "open_streams",
			Help:      "Observers currently attached to a deployment feed",
		}, []string{"transport"}))

		r.metricsInitialized = true
	})
}

func registerVec[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

// trackStream counts an open observer until the returned func is called.
func (r *Router) trackStream(transport string) func() {
	if !r.metricsInitialized {
		return func() {}
	}
	g := r.openStreams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}
