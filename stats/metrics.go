package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the session engine.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      prometheus.Counter
	ResponsesTotal     prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	RecyclesTotal      *prometheus.CounterVec
	NavigationDuration *prometheus.HistogramVec
	DriverMemory       *prometheus.GaugeVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_requests_total",
			Help: "Total navigation attempts issued by all sessions.",
		},
	)
	responses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_responses_total",
			Help: "Total successful navigations.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_errors_total",
			Help: "Total failed navigation attempts by error kind.",
		},
		[]string{"error_type"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	recycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_driver_recycles_total",
			Help: "Total driver recreations by trigger.",
		},
		[]string{"reason"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_navigation_duration_seconds",
			Help:    "Navigation latency per backend.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	memory := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_driver_memory_kilobytes",
			Help: "Last proportional memory reading of a driver process tree.",
		},
		[]string{"backend"},
	)

	registry.MustRegister(requests, responses, errorsTotal, retries, recycles, duration, memory)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		ResponsesTotal:     responses,
		ErrorsTotal:        errorsTotal,
		RetriesTotal:       retries,
		RecyclesTotal:      recycles,
		NavigationDuration: duration,
		DriverMemory:       memory,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest() {
	if m == nil {
		return
	}
	m.RequestsTotal.Inc()
}

// IncResponse increments the responses counter.
func (m *Metrics) IncResponse() {
	if m == nil {
		return
	}
	m.ResponsesTotal.Inc()
}

// IncError increments the errors counter for a kind label.
func (m *Metrics) IncError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncRecycle increments the recycles counter for a trigger.
func (m *Metrics) IncRecycle(reason string) {
	if m == nil {
		return
	}
	m.RecyclesTotal.WithLabelValues(reason).Inc()
}

// ObserveDuration records a navigation duration.
func (m *Metrics) ObserveDuration(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.NavigationDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// SetMemory records a memory reading.
func (m *Metrics) SetMemory(backend string, kb int64) {
	if m == nil {
		return
	}
	m.DriverMemory.WithLabelValues(backend).Set(float64(kb))
}
