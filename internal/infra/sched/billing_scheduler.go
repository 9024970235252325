package sched

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/config"
)

// BillingScheduler triggers the billing jobs on cron schedules. A job whose
// previous run is still going is skipped, not queued.
type BillingScheduler struct {
	runner *JobRunner
	specs  map[Job]string
	cron   *cron.Cron
	log    *zerolog.Logger
}

func NewBillingScheduler(cfg config.SchedulerConfig, runner *JobRunner, logger *zerolog.Logger) *BillingScheduler {
	l := logger.With().Str("component", "BillingScheduler").Logger()
	cl := cronLogger{log: &l}
	return &BillingScheduler{
		runner: runner,
		specs: map[Job]string{
			JobDue:       cfg.DueCron,
			JobRetry:     cfg.RetryCron,
			JobGrace:     cfg.GraceCron,
			JobReconcile: cfg.ReconcileCron,
		},
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:  &l,
	}
}

// Run registers the jobs, starts the cron loop and blocks until ctx is done.
// In-flight jobs are awaited before returning.
func (s *BillingScheduler) Run(ctx context.Context) error {
	for _, job := range AllJobs {
		job := job
		spec := s.specs[job]
		if spec == "" {
			s.log.Warn().Str("job", string(job)).Msg("no schedule configured; job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(spec, func() { _, _ = s.runner.Run(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job, spec, err)
		}
		s.log.Info().Str("job", string(job)).Str("spec", spec).Msg("job scheduled")
	}

	s.log.Info().Msg("Starting billing scheduler")
	s.cron.Start()
	<-ctx.Done()
	s.log.Info().Msg("Stopping billing scheduler")
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
