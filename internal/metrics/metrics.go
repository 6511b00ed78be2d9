// Package metrics exposes Prometheus counters for the mentor daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dsamentor/mentor/internal/domain"
)

const namespace = "mentor"

// Metrics owns a private registry so tests and multiple daemons don't collide
// on the global one.
type Metrics struct {
	registry *prometheus.Registry

	hintsGranted      *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	effortActivations prometheus.Counter
	effortUnlocks     *prometheus.CounterVec
	resets            *prometheus.CounterVec
	evaluations       *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		hintsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hints_granted_total",
			Help:      "Hints granted to the learner by category",
		}, []string{"category"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Policy rejections by reason",
		}, []string{"reason"}),
		effortActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effort_activations_total",
			Help:      "Times the effort gate was activated",
		}),
		effortUnlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effort_unlocks_total",
			Help:      "Effort gate releases by trigger",
		}, []string{"trigger"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Session resets by reason",
		}, []string{"reason"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Explanation evaluations by verdict and whether the safe fallback was used",
		}, []string{"verdict", "fallback"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Daemon HTTP request latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 20},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.hintsGranted,
		m.rejections,
		m.effortActivations,
		m.effortUnlocks,
		m.resets,
		m.evaluations,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HintGranted counts a granted hint.
func (m *Metrics) HintGranted(category domain.HintCategory) {
	m.hintsGranted.WithLabelValues(string(category)).Inc()
}

// Rejected counts a policy rejection.
func (m *Metrics) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) EffortActivated() {
	m.effortActivations.Inc()
}

func (m *Metrics) EffortUnlocked(trigger string) {
	m.effortUnlocks.WithLabelValues(trigger).Inc()
}

func (m *Metrics) StateReset(reason string) {
	m.resets.WithLabelValues(reason).Inc()
}

// Evaluated counts a finished evaluation.
func (m *Metrics) Evaluated(verdict domain.Verdict, fallback bool) {
	m.evaluations.WithLabelValues(string(verdict), strconv.FormatBool(fallback)).Inc()
}

// ObserveRequest records the latency of a served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
