package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		httpRequestsTotal,
		adminJobTriggersTotal,
		rateLimitedTotal,
	)
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP API requests by method and status class.",
		},
		[]string{"method", "code"},
	)

	adminJobTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_job_triggers_total",
			Help: "Billing jobs triggered manually through the admin API or CLI.",
		},
		[]string{"job"},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Requests rejected by the rate limiter, labeled by action.",
		},
		[]string{"action"},
	)
)

func IncHTTPRequest(method, code string) {
	httpRequestsTotal.WithLabelValues(method, code).Inc()
}

func IncAdminJobTrigger(job string) {
	adminJobTriggersTotal.WithLabelValues(norm(job)).Inc()
}

func IncRateLimited(action string) {
	rateLimitedTotal.WithLabelValues(norm(action)).Inc()
}
