package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		billingJobRunsTotal,
		billingJobItemsTotal,
		billingJobDurationSeconds,
	)
}

var (
	billingJobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_job_runs_total",
			Help: "Billing batch job runs, labeled by job and outcome.",
		},
		[]string{"job", "outcome"}, // 'ok', 'error'
	)

	billingJobItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_job_items_total",
			Help: "Items handled by billing batch jobs, labeled by job and result.",
		},
		[]string{"job", "result"}, // 'successful', 'failed', 'retried'
	)

	billingJobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_job_duration_seconds",
			Help:    "Wall time of billing batch job runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)
)

func ObserveJobRun(job string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	billingJobRunsTotal.WithLabelValues(norm(job), outcome).Inc()
	billingJobDurationSeconds.WithLabelValues(norm(job)).Observe(took.Seconds())
}

func AddJobItems(job, result string, n int) {
	if n <= 0 {
		return
	}
	billingJobItemsTotal.WithLabelValues(norm(job), norm(result)).Add(float64(n))
}
