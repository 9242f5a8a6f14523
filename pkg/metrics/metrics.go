// Package metrics exposes Prometheus metrics for runs, jobs and steps.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipewright"

// Metrics holds the engine collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsActive   prometheus.Gauge

	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsRunning  prometheus.Gauge

	stepsFinished *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "started_total",
				Help:      "Total number of runs started.",
			}, []string{"definition", "trigger"}),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "finished_total",
				Help:      "Total number of runs that reached a terminal status.",
			}, []string{"definition", "status"}),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Bucketed histogram of run wall time (s).",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16), // 100ms~3276s
			}, []string{"definition"}),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "active",
				Help:      "Number of runs currently executing.",
			}),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "finished_total",
				Help:      "Total number of jobs that reached a terminal status.",
			}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "duration_seconds",
				Help:      "Bucketed histogram of job wall time (s).",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms~1310s
			}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "running",
				Help:      "Number of jobs currently holding a concurrency slot.",
			}),
		stepsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "finished_total",
				Help:      "Total number of executed or not-run steps.",
			}, []string{"action", "status"}),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "duration_seconds",
				Help:      "Bucketed histogram of step execution time (s).",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20), // 1ms~524s
			}, []string{"action"}),
	}

	m.registry.MustRegister(
		m.runsStarted, m.runsFinished, m.runDuration, m.runsActive,
		m.jobsFinished, m.jobDuration, m.jobsRunning,
		m.stepsFinished, m.stepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RunStarted(definition, trigger string) {
	m.runsStarted.WithLabelValues(definition, trigger).Inc()
	m.runsActive.Inc()
}

func (m *Metrics) RunFinished(definition, status string, duration time.Duration) {
	m.runsFinished.WithLabelValues(definition, status).Inc()
	m.runDuration.WithLabelValues(definition).Observe(duration.Seconds())
	m.runsActive.Dec()
}

func (m *Metrics) JobStarted() {
	m.jobsRunning.Inc()
}

// JobFinished records a terminal job. started is false for jobs that never
// held a slot, such as skipped jobs.
func (m *Metrics) JobFinished(status string, duration time.Duration, started bool) {
	m.jobsFinished.WithLabelValues(status).Inc()

	if started {
		m.jobsRunning.Dec()
		m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

func (m *Metrics) StepFinished(action, status string, duration time.Duration) {
	m.stepsFinished.WithLabelValues(action, status).Inc()

	if status != "not_run" {
		m.stepDuration.WithLabelValues(action).Observe(duration.Seconds())
	}
}
