// Package metrics exposes Prometheus instruments for jobs, rows, and the
// HTTP surface on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/maplink/internal/model"
)

const namespace = "maplink"

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	rowsTotal     *prometheus.CounterVec
	rowDuration   *prometheus.HistogramVec
	rowsSkipped   prometheus.Counter
	candidates    prometheus.Histogram
	jobsTotal     *prometheus.CounterVec
	jobActive     prometheus.Gauge
	eventsDropped prometheus.Counter

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

// New builds the instruments and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "rows_total",
			Help:      "Rows processed by outcome.",
		}, []string{"status"}),
		rowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "row_duration_seconds",
			Help:      "Time spent locating one row.",
			Buckets:   []float64{1, 2, 4, 6, 8, 10, 15, 20, 30, 60},
		}, []string{"status"}),
		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "rows_resumed_total",
			Help:      "In-scope rows skipped because the ledger already had them.",
		}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "locate",
			Name:      "candidates",
			Help:      "Result-list size when a search returned several places.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Jobs finished by terminal state.",
		}, []string{"state"}),
		jobActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "active",
			Help:      "1 while a job is running.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events not delivered to a slow subscriber.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests being served, including open event streams.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rowsTotal,
		m.rowDuration,
		m.rowsSkipped,
		m.candidates,
		m.jobsTotal,
		m.jobActive,
		m.eventsDropped,
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRow records one processed row.
func (m *Metrics) ObserveRow(status model.RecordStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.rowsTotal.WithLabelValues(string(status)).Inc()
	m.rowDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveCandidates records a result-list size.
func (m *Metrics) ObserveCandidates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.candidates.Observe(float64(n))
}

// AddResumed counts rows skipped on resume.
func (m *Metrics) AddResumed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsSkipped.Add(float64(n))
}

// JobStarted marks a job active.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobActive.Set(1)
}

// JobFinished records a terminal state and clears the active gauge.
func (m *Metrics) JobFinished(state model.JobState) {
	if m == nil {
		return
	}
	m.jobActive.Set(0)
	m.jobsTotal.WithLabelValues(string(state)).Inc()
}

// EventDropped counts one undelivered event.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
