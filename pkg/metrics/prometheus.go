package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	fetchAttempts *prometheus.CounterVec
	stockOutcomes *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	jobProgress   *prometheus.GaugeVec
	upsertLatency prometheus.Histogram
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fetchAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepull_fetch_attempts_total",
				Help: "Upstream fetch attempts by verdict",
			},
			[]string{"verdict"},
		),
		stockOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepull_stock_outcomes_total",
				Help: "Per-stock job outcomes by kind",
			},
			[]string{"kind"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		jobProgress: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotepull_job_progress",
				Help: "Stocks with a recorded outcome in the current job",
			},
			[]string{"side"},
		),
		upsertLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quotepull_upsert_duration_seconds",
				Help:    "Duration of daily bar upserts in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordFetchAttempt counts one upstream attempt by verdict.
func (r *Recorder) RecordFetchAttempt(verdict string) {
	r.fetchAttempts.WithLabelValues(verdict).Inc()
}

// RecordStockOutcome counts one recorded per-stock outcome.
func (r *Recorder) RecordStockOutcome(kind string) {
	r.stockOutcomes.WithLabelValues(kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordJobProgress tracks how far the running job has progressed.
func (r *Recorder) RecordJobProgress(done, total int) {
	r.jobProgress.WithLabelValues("done").Set(float64(done))
	r.jobProgress.WithLabelValues("total").Set(float64(total))
}

// RecordUpsertLatency records one upsert duration in seconds.
func (r *Recorder) RecordUpsertLatency(seconds float64) {
	r.upsertLatency.Observe(seconds)
}
