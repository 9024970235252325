package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayCallsTotal,
		gatewayCallDuration,
		gatewayBreakerState,
		chargesRevenueTotal,
	)
}

var (
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Payment gateway calls by provider, operation and result.",
		},
		[]string{"provider", "op", "result"}, // result: 'ok', 'declined', 'error', 'timeout', 'rejected'
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Payment gateway call latency.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"provider", "op"},
	)

	gatewayBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_gateway_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
		},
		[]string{"provider"},
	)

	chargesRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_charges_confirmed_minor_units_total",
			Help: "Sum of confirmed charge amounts in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func ObserveGatewayCall(provider, op, result string, took time.Duration) {
	gatewayCallsTotal.WithLabelValues(norm(provider), op, result).Inc()
	gatewayCallDuration.WithLabelValues(norm(provider), op).Observe(took.Seconds())
}

func SetBreakerState(provider string, state int) {
	gatewayBreakerState.WithLabelValues(norm(provider)).Set(float64(state))
}

func AddConfirmedRevenue(currency string, amountMinor int64) {
	chargesRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amountMinor))
}
