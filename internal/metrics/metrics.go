// Package metrics provides Prometheus metrics for the discovery engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	ItemsFound      prometheus.Counter
	ItemsNew        prometheus.Counter
	ItemsCurated    prometheus.Counter
	TicksTotal      prometheus.Counter
	ScheduledRuns   prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_runs_total",
				Help: "Total number of agent runs by outcome.",
			},
			[]string{"outcome"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_run_duration_seconds",
				Help:    "Agent run duration by outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		ItemsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_items_found_total",
			Help: "Items returned across all completed runs.",
		}),
		ItemsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_items_new_total",
			Help: "Items not present in the agent's previous run.",
		}),
		ItemsCurated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_items_curated_total",
			Help: "Items added to agent contexts by automatic curation.",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_scheduler_ticks_total",
			Help: "Continuous-mode due checks performed.",
		}),
		ScheduledRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_scheduler_triggered_total",
			Help: "Runs started by the continuous-mode due check.",
		}),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_api_requests_total",
				Help: "Management API requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_api_request_duration_seconds",
				Help:    "Management API request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ItemsFound,
		m.ItemsNew,
		m.ItemsCurated,
		m.TicksTotal,
		m.ScheduledRuns,
		m.RequestsTotal,
		m.RequestDuration,
		m.ErrorsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a finished run and its duration.
func (m *Metrics) RecordRun(outcome string, d time.Duration) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordDiscovered adds a completed run's item counts.
func (m *Metrics) RecordDiscovered(total, fresh int) {
	m.ItemsFound.Add(float64(total))
	m.ItemsNew.Add(float64(fresh))
}

// RecordCurated adds automatically curated items.
func (m *Metrics) RecordCurated(n int) {
	m.ItemsCurated.Add(float64(n))
}

// RecordTick counts a due check and the runs it started.
func (m *Metrics) RecordTick(triggered int) {
	m.TicksTotal.Inc()
	m.ScheduledRuns.Add(float64(triggered))
}

// RecordRequest counts a management API request.
func (m *Metrics) RecordRequest(method, route, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
