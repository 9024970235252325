package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"trading-edu-billing/internal/config"
	"trading-edu-billing/internal/domain/ports/adapter"
	"trading-edu-billing/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*ResilientGateway)(nil)

// ErrGatewayUnavailable is returned while the circuit breaker is open.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ResilientGateway decorates a provider with a circuit breaker, a per-call
// timeout and call metrics. Declines count as successful calls for the
// breaker since the provider answered.
type ResilientGateway struct {
	next    adapter.PaymentGateway
	cb      *gobreaker.CircuitBreaker[any]
	timeout time.Duration
	log     *zerolog.Logger
}

func NewResilientGateway(next adapter.PaymentGateway, cfg config.BreakerConfig, callTimeout time.Duration, logger *zerolog.Logger) *ResilientGateway {
	l := logger.With().Str("component", "PaymentGateway").Str("provider", next.Name()).Logger()
	g := &ResilientGateway{next: next, timeout: callTimeout, log: &l}
	if cfg.Enabled {
		threshold := cfg.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        next.Name(),
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, adapter.ErrPaymentDeclined)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
				metrics.SetBreakerState(name, int(to))
			},
		})
		metrics.SetBreakerState(next.Name(), int(gobreaker.StateClosed))
	}
	return g
}

func (g *ResilientGateway) Name() string { return g.next.Name() }

// State reports the breaker state; without a breaker it is always closed.
func (g *ResilientGateway) State() gobreaker.State {
	if g.cb == nil {
		return gobreaker.StateClosed
	}
	return g.cb.State()
}

func (g *ResilientGateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*adapter.PaymentIntent, error) {
	res, err := g.call(ctx, "create_intent", func(ctx context.Context) (any, error) {
		return g.next.CreatePaymentIntent(ctx, amountCents, currency, metadata)
	})
	if err != nil {
		return nil, err
	}
	return res.(*adapter.PaymentIntent), nil
}

func (g *ResilientGateway) ConfirmPayment(ctx context.Context, paymentIntentID, paymentMethod string) error {
	_, err := g.call(ctx, "confirm", func(ctx context.Context) (any, error) {
		return nil, g.next.ConfirmPayment(ctx, paymentIntentID, paymentMethod)
	})
	return err
}

func (g *ResilientGateway) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*adapter.PaymentIntent, error) {
	res, err := g.call(ctx, "get_intent", func(ctx context.Context) (any, error) {
		return g.next.GetPaymentIntent(ctx, paymentIntentID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*adapter.PaymentIntent), nil
}

func (g *ResilientGateway) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		res any
		err error
	)
	if g.cb != nil {
		res, err = g.cb.Execute(func() (any, error) { return fn(ctx) })
	} else {
		res, err = fn(ctx)
	}
	took := time.Since(start)

	switch {
	case err == nil:
		metrics.ObserveGatewayCall(g.Name(), op, "ok", took)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ObserveGatewayCall(g.Name(), op, "rejected", took)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	case errors.Is(err, adapter.ErrPaymentDeclined):
		metrics.ObserveGatewayCall(g.Name(), op, "declined", took)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ObserveGatewayCall(g.Name(), op, "timeout", took)
	default:
		metrics.ObserveGatewayCall(g.Name(), op, "error", took)
	}
	if err != nil {
		g.log.Debug().Err(err).Str("op", op).Dur("took", took).Msg("gateway call failed")
	}
	return res, err
}

// NewGateway builds the configured provider wrapped in ResilientGateway.
func NewGateway(cfg config.GatewayConfig, callTimeout time.Duration, logger *zerolog.Logger) (*ResilientGateway, error) {
	var base adapter.PaymentGateway
	switch cfg.Provider {
	case "", "mock":
		base = NewMockGateway()
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
	return NewResilientGateway(base, cfg.Breaker, callTimeout, logger), nil
}
