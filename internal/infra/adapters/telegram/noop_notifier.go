package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/adapter"
)

var _ adapter.BillingNotifier = (*NoopNotifier)(nil)

// NoopNotifier logs billing alerts instead of sending them. Used when no bot
// token is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) PaymentFailed(ctx context.Context, sub *model.Subscription, rec *model.BillingRecord) error {
	n.log.Info().Str("subscription_id", sub.ID).Int("attempt", rec.Attempt).Str("reason", rec.FailureReason).Msg("payment failed")
	return nil
}

func (n *NoopNotifier) SubscriptionCanceled(ctx context.Context, sub *model.Subscription) error {
	n.log.Info().Str("subscription_id", sub.ID).Str("reason", sub.CancelReason).Msg("subscription canceled")
	return nil
}
