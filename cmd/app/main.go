// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trading-edu-billing/internal/application"
	"trading-edu-billing/internal/config"
	"trading-edu-billing/internal/infra/api"
	"trading-edu-billing/internal/infra/logging"
	"trading-edu-billing/internal/infra/metrics"
	red "trading-edu-billing/internal/infra/redis"
	"trading-edu-billing/internal/infra/sched"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no sampling)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer app.Close()

	secret := cfg.HTTP.JWTSecret
	if secret == "" {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("http.jwt_secret (or API_JWT_SECRET) is required")
		}
		logger.Warn().Msg("[DEV MODE] http.jwt_secret not set; using an insecure dev secret")
		secret = "dev-secret"
	}

	var limiter api.Limiter
	if app.Redis != nil {
		limiter = red.NewRateLimiter(app.Redis)
	}
	srv := api.NewServer(app.Billing, app.Jobs, api.NewAuthManager(secret, time.Hour), limiter,
		api.Options{RequestTimeout: cfg.HTTP.RequestTimeout, WriteLimit: 60}, logger)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", name).Msg("stopped with error")
				stop()
			}
		}()
	}

	run("http", func(ctx context.Context) error {
		return srv.Serve(ctx, fmt.Sprintf(":%d", cfg.HTTP.Port))
	})
	if cfg.Scheduler.Enabled {
		run("scheduler", sched.NewBillingScheduler(cfg.Scheduler, app.Jobs, logger).Run)
	} else {
		logger.Info().Msg("scheduler disabled; jobs run only on demand")
	}
	run("stats", sched.NewStatsWorker(time.Minute, app.Subs, app.Pool, logger).Run)

	logger.Info().Str("version", version).Str("gateway", app.Gateway.Name()).Msg("billing service started")
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	wg.Wait()
}
