package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/domain/ports/repository"
	"trading-edu-billing/internal/infra/metrics"
)

// StatsWorker periodically refreshes the subscription and pool gauges.
type StatsWorker struct {
	interval time.Duration
	subs     repository.SubscriptionRepository
	pool     *pgxpool.Pool // optional
	log      *zerolog.Logger
}

func NewStatsWorker(interval time.Duration, subs repository.SubscriptionRepository, pool *pgxpool.Pool, logger *zerolog.Logger) *StatsWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "StatsWorker").Logger()
	return &StatsWorker{interval: interval, subs: subs, pool: pool, log: &l}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting stats worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stats worker")
			return ctx.Err()
		case <-ticker.C:
			w.collect(ctx)
		}
	}
}

func (w *StatsWorker) collect(ctx context.Context) {
	counts, err := w.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		w.log.Error().Err(err).Msg("count subscriptions failed")
	} else {
		metrics.SetSubscriptionsTotal(counts)
	}
	if w.pool != nil {
		metrics.ObservePool(w.pool.Stat())
	}
}
