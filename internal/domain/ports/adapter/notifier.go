package adapter

import (
	"context"

	"trading-edu-billing/internal/domain/model"
)

// BillingNotifier delivers best-effort alerts about billing events. Failures
// are logged by the caller and never change billing state.
type BillingNotifier interface {
	PaymentFailed(ctx context.Context, sub *model.Subscription, rec *model.BillingRecord) error
	SubscriptionCanceled(ctx context.Context, sub *model.Subscription) error
}
