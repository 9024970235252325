package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"trading-edu-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*MockGateway)(nil)

// Test payment methods understood by MockGateway. Any other method succeeds.
const (
	MethodVisa     = "pm_card_visa"
	MethodDeclined = "pm_card_declined" // confirm is declined
	MethodError    = "pm_card_error"    // intent creation fails
	MethodHang     = "pm_card_hang"     // confirm blocks until ctx is done
)

type mockIntent struct {
	amount   int64
	currency string
	status   string
}

// MockGateway is an in-memory provider for development and tests. Its
// behavior is selected by the payment method, the way card processors
// expose test cards.
type MockGateway struct {
	mu      sync.Mutex
	intents map[string]*mockIntent
	entropy *ulid.MonotonicEntropy
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		intents: make(map[string]*mockIntent),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*adapter.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("mock: invalid amount %d", amountCents)
	}
	if metadata["payment_method"] == MethodError {
		return nil, fmt.Errorf("mock: provider unavailable")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	id := "pi_" + ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
	g.intents[id] = &mockIntent{amount: amountCents, currency: currency, status: adapter.IntentRequiresConfirmation}
	return &adapter.PaymentIntent{ID: id, AmountCents: amountCents, Currency: currency, Status: adapter.IntentRequiresConfirmation}, nil
}

func (g *MockGateway) ConfirmPayment(ctx context.Context, intentID, paymentMethod string) error {
	switch paymentMethod {
	case MethodHang:
		<-ctx.Done()
		return ctx.Err()
	case MethodError:
		return fmt.Errorf("mock: provider unavailable")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("mock: payment intent %s not found", intentID)
	}
	if in.status == adapter.IntentSucceeded {
		return fmt.Errorf("mock: payment intent %s already confirmed", intentID)
	}
	if paymentMethod == MethodDeclined {
		in.status = adapter.IntentDeclined
		return fmt.Errorf("%w: card declined", adapter.ErrPaymentDeclined)
	}
	in.status = adapter.IntentSucceeded
	return nil
}

func (g *MockGateway) GetPaymentIntent(ctx context.Context, intentID string) (*adapter.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("mock: payment intent %s not found", intentID)
	}
	return &adapter.PaymentIntent{ID: intentID, AmountCents: in.amount, Currency: in.currency, Status: in.status}, nil
}
