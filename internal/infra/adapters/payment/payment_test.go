//go:build !integration

package payment

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-edu-billing/internal/config"
	"trading-edu-billing/internal/domain/ports/adapter"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()

	t.Run("visa succeeds once per intent", func(t *testing.T) {
		in, err := g.CreatePaymentIntent(ctx, 2900, "USD", nil)
		require.NoError(t, err)
		assert.Regexp(t, `^pi_[0-9A-Z]{26}$`, in.ID)
		require.NoError(t, g.ConfirmPayment(ctx, in.ID, MethodVisa))
		assert.Error(t, g.ConfirmPayment(ctx, in.ID, MethodVisa))
	})

	t.Run("declined card", func(t *testing.T) {
		in, err := g.CreatePaymentIntent(ctx, 2900, "USD", nil)
		require.NoError(t, err)
		err = g.ConfirmPayment(ctx, in.ID, MethodDeclined)
		assert.ErrorIs(t, err, adapter.ErrPaymentDeclined)

		got, err := g.GetPaymentIntent(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentDeclined, got.Status)
	})

	t.Run("intent status follows confirmation", func(t *testing.T) {
		in, err := g.CreatePaymentIntent(ctx, 2900, "USD", nil)
		require.NoError(t, err)
		got, err := g.GetPaymentIntent(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentRequiresConfirmation, got.Status)

		require.NoError(t, g.ConfirmPayment(ctx, in.ID, MethodVisa))
		got, err = g.GetPaymentIntent(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentSucceeded, got.Status)
		assert.Equal(t, int64(2900), got.AmountCents)

		_, err = g.GetPaymentIntent(ctx, "pi_missing")
		assert.Error(t, err)
	})

	t.Run("provider error on intent creation", func(t *testing.T) {
		_, err := g.CreatePaymentIntent(ctx, 2900, "USD", map[string]string{"payment_method": MethodError})
		assert.Error(t, err)
	})

	t.Run("hang respects the context", func(t *testing.T) {
		in, err := g.CreatePaymentIntent(ctx, 2900, "USD", nil)
		require.NoError(t, err)
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, g.ConfirmPayment(cctx, in.ID, MethodHang), context.DeadlineExceeded)
	})

	t.Run("unknown intent and bad amount", func(t *testing.T) {
		assert.Error(t, g.ConfirmPayment(ctx, "pi_missing", MethodVisa))
		_, err := g.CreatePaymentIntent(ctx, 0, "USD", nil)
		assert.Error(t, err)
	})
}

// flakyGateway answers every confirm with err.
type flakyGateway struct {
	calls atomic.Int32
	err   error
}

func (f *flakyGateway) Name() string { return "flaky" }

func (f *flakyGateway) CreatePaymentIntent(ctx context.Context, amount int64, currency string, meta map[string]string) (*adapter.PaymentIntent, error) {
	return &adapter.PaymentIntent{ID: "pi_1", AmountCents: amount, Currency: currency}, nil
}

func (f *flakyGateway) GetPaymentIntent(ctx context.Context, id string) (*adapter.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.PaymentIntent{ID: id, Status: adapter.IntentSucceeded}, nil
}

func (f *flakyGateway) ConfirmPayment(ctx context.Context, id, pm string) error {
	f.calls.Add(1)
	if pm == MethodHang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func breakerCfg() config.BreakerConfig {
	return config.BreakerConfig{Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}
}

func TestResilientGateway_OpensOnErrors(t *testing.T) {
	ctx := context.Background()
	inner := &flakyGateway{err: errors.New("connection reset")}
	g := NewResilientGateway(inner, breakerCfg(), time.Second, newTestLogger())

	for i := 0; i < 2; i++ {
		assert.Error(t, g.ConfirmPayment(ctx, "pi_1", MethodVisa))
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	err := g.ConfirmPayment(ctx, "pi_1", MethodVisa)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(2), inner.calls.Load(), "open breaker must not reach the provider")
}

func TestResilientGateway_DeclinesDoNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := &flakyGateway{err: adapter.ErrPaymentDeclined}
	g := NewResilientGateway(inner, breakerCfg(), time.Second, newTestLogger())

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, g.ConfirmPayment(ctx, "pi_1", MethodDeclined), adapter.ErrPaymentDeclined)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestResilientGateway_GetPaymentIntent(t *testing.T) {
	ctx := context.Background()
	g := NewResilientGateway(&flakyGateway{}, breakerCfg(), time.Second, newTestLogger())
	in, err := g.GetPaymentIntent(ctx, "pi_7")
	require.NoError(t, err)
	assert.Equal(t, adapter.IntentSucceeded, in.Status)

	bad := NewResilientGateway(&flakyGateway{err: errors.New("connection reset")}, breakerCfg(), time.Second, newTestLogger())
	_, err = bad.GetPaymentIntent(ctx, "pi_7")
	assert.Error(t, err)
}

func TestResilientGateway_Timeout(t *testing.T) {
	inner := &flakyGateway{}
	g := NewResilientGateway(inner, config.BreakerConfig{}, 20*time.Millisecond, newTestLogger())

	err := g.ConfirmPayment(context.Background(), "pi_1", MethodHang)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestNewGateway(t *testing.T) {
	g, err := NewGateway(config.GatewayConfig{Provider: "mock"}, time.Second, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", g.Name())

	_, err = NewGateway(config.GatewayConfig{Provider: "stripe"}, time.Second, newTestLogger())
	assert.Error(t, err)
}
