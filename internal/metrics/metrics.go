// Package metrics holds the Prometheus collectors for surface runs and the
// read API. Every method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	Files         *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	Rows          *prometheus.GaugeVec
	LastSuccess   prometheus.Gauge
	Reloads       *prometheus.CounterVec
	Requests      *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volsurface_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),

		Files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_files_total",
				Help: "Input files processed by outcome",
			},
			[]string{"status"},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_runs_total",
				Help: "Pipeline runs by mode and result",
			},
			[]string{"mode", "result"},
		),

		Rows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volsurface_rows",
				Help: "Rows in the current surface by data quality tier",
			},
			[]string{"quality"},
		),

		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "volsurface_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run",
			},
		),

		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_reloads_total",
				Help: "Surface reloads by the read API",
			},
			[]string{"result"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_http_requests_total",
				Help: "Read API requests by route and status class",
			},
			[]string{"route", "code"},
		),
	}

	m.registry.MustRegister(
		m.StageDuration,
		m.Files,
		m.Runs,
		m.Rows,
		m.LastSuccess,
		m.Reloads,
		m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StageTimer tracks execution time for one stage.
type StageTimer struct {
	metrics *Metrics
	stage   string
	start   time.Time
}

// StartStage begins timing a stage.
func (m *Metrics) StartStage(stage string) *StageTimer {
	return &StageTimer{metrics: m, stage: stage, start: time.Now()}
}

// Stop records the stage duration and returns it.
func (st *StageTimer) Stop() time.Duration {
	d := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StageDuration.WithLabelValues(st.stage).Observe(d.Seconds())
	}
	return d
}

// File counts one input file outcome: ok, empty or failed.
func (m *Metrics) File(status string) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(status).Inc()
}

// Run counts a finished run.
func (m *Metrics) Run(mode string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		m.LastSuccess.SetToCurrentTime()
	}
	m.Runs.WithLabelValues(mode, result).Inc()
}

// SetRows replaces the per-tier row gauges.
func (m *Metrics) SetRows(byTier map[string]int) {
	if m == nil {
		return
	}
	m.Rows.Reset()
	for tier, n := range byTier {
		m.Rows.WithLabelValues(tier).Set(float64(n))
	}
}

// Reload counts a reload attempt.
func (m *Metrics) Reload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Reloads.WithLabelValues("failure").Inc()
		return
	}
	m.Reloads.WithLabelValues("success").Inc()
}

// Request counts one API response.
func (m *Metrics) Request(route string, status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
