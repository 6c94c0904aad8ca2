// Package metrics exposes Prometheus instruments for job runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "krontab"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.HistogramVec
	nextRun  *prometheus.GaugeVec
	skipped  *prometheus.CounterVec
	jobs     prometheus.Gauge
}

// New registers the job collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Finished job runs by status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of job runs, retries included.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_attempts",
			Help:      "Attempts spent per run.",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}, []string{"job"}),
		nextRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled run, 0 when the schedule never fires again.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_skipped_total",
			Help:      "Runs skipped because the previous one was still running.",
		}, []string{"job"}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_registered",
			Help:      "Jobs currently registered in the scheduler.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.duration, m.attempts, m.nextRun, m.skipped, m.jobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(job, status string, took time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, status).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if attempts > 0 {
		m.attempts.WithLabelValues(job).Observe(float64(attempts))
	}
}

// Skipped counts a run dropped by the overlap policy.
func (m *Metrics) Skipped(job string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job).Inc()
}

// SetNextRun publishes the next activation of job. A zero time means never.
func (m *Metrics) SetNextRun(job string, at time.Time) {
	if m == nil {
		return
	}
	if at.IsZero() {
		m.nextRun.WithLabelValues(job).Set(0)
		return
	}
	m.nextRun.WithLabelValues(job).Set(float64(at.Unix()))
}

// SetJobs publishes the number of registered jobs.
func (m *Metrics) SetJobs(n int) {
	if m == nil {
		return
	}
	m.jobs.Set(float64(n))
}

// Forget drops the per-job series of a removed job.
func (m *Metrics) Forget(job string) {
	if m == nil {
		return
	}
	m.runs.DeletePartialMatch(prometheus.Labels{"job": job})
	m.duration.DeleteLabelValues(job)
	m.attempts.DeleteLabelValues(job)
	m.nextRun.DeleteLabelValues(job)
	m.skipped.DeleteLabelValues(job)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
