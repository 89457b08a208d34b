// Package metrics exposes the tutor front end's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aitutor"

// Metrics owns a private registry so several instances (tests, commands) never
// collide on registration.
type Metrics struct {
	registry    *prometheus.Registry
	questions   *prometheus.CounterVec
	askDuration prometheus.Histogram
	rateLimited prometheus.Counter
}

// New registers the tutor metrics plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Questions sent to the tutor service, by outcome.",
		}, []string{"outcome"}),
		askDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Time spent waiting for the tutor service.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Questions rejected by the per-client limiter.",
		}),
	}
	reg.MustRegister(
		m.questions,
		m.askDuration,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAsk records one call to the tutor service.
func (m *Metrics) ObserveAsk(outcome string, elapsed time.Duration) {
	m.questions.WithLabelValues(outcome).Inc()
	m.askDuration.Observe(elapsed.Seconds())
}

// RateLimited counts one rejected question.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
