package application

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/config"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/adapter"
	"trading-edu-billing/internal/domain/ports/repository"
	payAdapters "trading-edu-billing/internal/infra/adapters/payment"
	tele "trading-edu-billing/internal/infra/adapters/telegram"
	pg "trading-edu-billing/internal/infra/db/postgres"
	red "trading-edu-billing/internal/infra/redis"
	"trading-edu-billing/internal/infra/sched"
	"trading-edu-billing/internal/usecase"
)

// App holds the wired billing service shared by the server and the ops CLI.
type App struct {
	Config  *config.Config
	Log     *zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *red.Client // nil when redis.url is empty
	Subs    repository.SubscriptionRepository
	Billing usecase.BillingUseCase
	Jobs    *sched.JobRunner
	Gateway *payAdapters.ResilientGateway
}

// Build connects to the stores and wires the use case. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	plans, err := usecase.NewPlanCatalogFromConfig(cfg.Billing)
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	app := &App{Config: cfg, Log: logger, Pool: pool}

	var locker adapter.Locker
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.Redis = rc
		locker = red.NewLocker(rc)
	} else {
		logger.Warn().Msg("redis.url not set; billing and job locks disabled")
	}

	gw, err := payAdapters.NewGateway(cfg.Gateway, cfg.Billing.GatewayTimeout, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Gateway = gw

	var notifier adapter.BillingNotifier = tele.NewNoopNotifier(logger)
	if cfg.Notify.TelegramToken != "" && len(cfg.Notify.ChatIDs) > 0 {
		n, err := tele.NewBillingNotifier(cfg.Notify.TelegramToken, cfg.Notify.ChatIDs, logger)
		if err != nil {
			// alerts are best-effort; billing runs without them
			logger.Error().Err(err).Msg("telegram notifier unavailable, falling back to noop")
		} else {
			notifier = n
		}
	}

	app.Subs = pg.NewSubscriptionRepo(pool)
	app.Billing = usecase.NewBillingUseCase(usecase.BillingDeps{
		Subscriptions: app.Subs,
		Billing:       pg.NewBillingRepo(pool),
		Users:         pg.NewPostgresUserRepo(pool),
		Tx:            pg.NewTxManager(pool),
		Gateway:       gw,
		Notifier:      notifier,
		Locker:        locker,
		Plans:         plans,
	}, usecase.BillingOptions{
		Policy:               usecase.NewRetryPolicy(cfg.Billing.MaxRetries, cfg.Billing.RetryScheduleDays, cfg.Billing.GracePeriodDays),
		GatewayTimeout:       cfg.Billing.GatewayTimeout,
		DefaultPaymentMethod: cfg.Billing.DefaultPaymentMethod,
		BaseRole:             model.Role(cfg.Billing.BaseRole),
		BatchLimit:           cfg.Billing.BatchLimit,
		LockTTL:              cfg.Redis.LockTTL,
		StaleAfter:           cfg.Billing.ReconcileAfter,
	}, logger)

	app.Jobs = sched.NewJobRunner(app.Billing, locker, cfg.Scheduler.JobTimeout, 0, logger)
	return app, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("redis close")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
