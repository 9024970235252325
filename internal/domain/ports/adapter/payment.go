package adapter

import (
	"context"
	"errors"
)

// ErrPaymentDeclined is returned by gateways when the provider rejects a
// charge for business reasons (card declined, insufficient funds, ...).
var ErrPaymentDeclined = errors.New("payment declined")

// Provider intent statuses. Only IntentSucceeded means money was captured.
const (
	IntentRequiresConfirmation = "requires_confirmation"
	IntentSucceeded            = "succeeded"
	IntentDeclined             = "declined"
)

// PaymentIntent is the provider's handle for one charge.
type PaymentIntent struct {
	ID          string
	AmountCents int64
	Currency    string
	Status      string
}

// PaymentGateway is the hex port for payment providers. Implementations only
// report outcomes; they never touch persisted billing state.
type PaymentGateway interface {
	Name() string

	// CreatePaymentIntent registers a charge of amountCents with the provider.
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*PaymentIntent, error)
	// ConfirmPayment captures the intent using the given payment method.
	ConfirmPayment(ctx context.Context, paymentIntentID, paymentMethod string) error
	// GetPaymentIntent reads the provider's current view of an intent.
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
}
