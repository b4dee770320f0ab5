package jobs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for job execution.
type Metrics struct {
	SubmittedTotal   prometheus.Counter
	FinishedTotal    *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	RedeliveredTotal prometheus.Counter
	RecycledTotal    *prometheus.CounterVec
}

// NewMetrics registers the job metrics with the default registry once per
// process.
//
// Metrics:
//   - kravscan_jobs_submitted_total
//   - kravscan_jobs_finished_total{state}
//   - kravscan_job_duration_seconds{state}
//   - kravscan_jobs_in_flight
//   - kravscan_jobs_redelivered_total
//   - kravscan_workers_recycled_total{reason}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SubmittedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "kravscan_jobs_submitted_total",
				Help: "Total number of submitted scan jobs",
			}),
			FinishedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kravscan_jobs_finished_total",
					Help: "Total number of jobs that reached a terminal state",
				},
				[]string{"state"}, // "success", "failure" or "revoked"
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "kravscan_job_duration_seconds",
					Help:    "Wall time of one job execution",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68m
				},
				[]string{"state"},
			),
			InFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "kravscan_jobs_in_flight",
				Help: "Jobs currently executing",
			}),
			RedeliveredTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "kravscan_jobs_redelivered_total",
				Help: "Queue deliveries after the first for the same job",
			}),
			RecycledTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kravscan_workers_recycled_total",
					Help: "Worker recycles by reason",
				},
				[]string{"reason"}, // "max_batches", "max_memory" or "hard_limit"
			),
		}
	})
	return globalMetrics
}

// RecordFinished records a terminal job.
func (m *Metrics) RecordFinished(state State, seconds float64) {
	m.FinishedTotal.WithLabelValues(string(state)).Inc()
	m.Duration.WithLabelValues(string(state)).Observe(seconds)
}
