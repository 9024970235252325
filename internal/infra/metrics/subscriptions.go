package metrics

import (
	"trading-edu-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsCanceledTotal,
		subscriptionsTotal,
	)
}

var (
	subscriptionsCanceledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_canceled_total",
			Help: "Subscriptions canceled by the billing jobs, labeled by reason.",
		},
		[]string{"reason"},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"}, // 'active', 'past_due', 'grace_period', 'canceled'
	)
)

func AddSubscriptionsCanceled(reason string, count int) {
	if count <= 0 {
		return
	}
	subscriptionsCanceledTotal.WithLabelValues(norm(reason)).Add(float64(count))
}

// SetSubscriptionsTotal sets the gauge for every known status, zeroing the
// ones absent from counts.
func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := append(append([]model.SubscriptionStatus{}, model.LiveStatuses...), model.SubscriptionStatusCanceled)
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(norm(string(status))).Set(float64(counts[status]))
	}
}
