package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/adapter"
	ucport "trading-edu-billing/internal/domain/ports/usecase"
	"trading-edu-billing/internal/infra/logging"
	"trading-edu-billing/internal/infra/metrics"
)

// Job names a billing batch job.
type Job string

const (
	JobDue       Job = "due"
	JobRetry     Job = "retry"
	JobGrace     Job = "grace"
	JobReconcile Job = "reconcile"
)

var AllJobs = []Job{JobDue, JobRetry, JobGrace, JobReconcile}

// ErrJobRunning is returned when another run of the same job holds its lock.
var ErrJobRunning = errors.New("job already running")

func ParseJob(s string) (Job, error) {
	j := Job(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range AllJobs {
		if j == k {
			return j, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job %q", domain.ErrInvalidArgument, s)
}

// JobRunner executes one billing job with a cluster-wide lock, a timeout
// and metrics. It backs the cron scheduler, the admin API and the CLI.
type JobRunner struct {
	jobs    ucport.BillingJobs
	locker  adapter.Locker // optional
	timeout time.Duration
	lockTTL time.Duration
	log     *zerolog.Logger
}

func NewJobRunner(jobs ucport.BillingJobs, locker adapter.Locker, timeout, lockTTL time.Duration, logger *zerolog.Logger) *JobRunner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if lockTTL < timeout {
		lockTTL = timeout
	}
	l := logger.With().Str("component", "JobRunner").Logger()
	return &JobRunner{jobs: jobs, locker: locker, timeout: timeout, lockTTL: lockTTL, log: &l}
}

// Run executes job and returns its tally (*ucport.BatchResult or
// *ucport.RetryResult).
func (r *JobRunner) Run(ctx context.Context, job Job) (any, error) {
	ctx = logging.WithJob(ctx, string(job))
	l := logging.With(ctx, r.log)

	if r.locker != nil {
		key := "job:" + string(job)
		token, err := r.locker.TryLock(ctx, key, r.lockTTL)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			l.Info().Msg("skipped: another instance is running this job")
			return nil, ErrJobRunning
		}
		if err != nil {
			return nil, fmt.Errorf("lock job %s: %w", job, err)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.locker.Unlock(rctx, key, token); err != nil {
				l.Warn().Err(err).Msg("job unlock failed")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.dispatch(ctx, job)
	took := time.Since(start)
	metrics.ObserveJobRun(string(job), err, took)

	if err != nil {
		l.Error().Err(err).Dur("took", took).Msg("job failed")
		return res, err
	}
	l.Info().Dur("took", took).Interface("result", res).Msg("job finished")
	return res, nil
}

func (r *JobRunner) dispatch(ctx context.Context, job Job) (any, error) {
	switch job {
	case JobDue:
		res, err := r.jobs.ProcessDueSubscriptions(ctx)
		if res != nil {
			metrics.AddJobItems(string(job), "successful", res.Successful)
			metrics.AddJobItems(string(job), "failed", res.Failed)
		}
		return res, err
	case JobRetry:
		res, err := r.jobs.RetryFailedPayments(ctx)
		if res != nil {
			metrics.AddJobItems(string(job), "retried", res.Retried)
			metrics.AddJobItems(string(job), "successful", res.Successful)
			metrics.AddJobItems(string(job), "failed", res.Failed)
		}
		return res, err
	case JobGrace:
		res, err := r.jobs.ProcessGracePeriodExpirations(ctx)
		if res != nil {
			metrics.AddJobItems(string(job), "successful", res.Successful)
			metrics.AddJobItems(string(job), "failed", res.Failed)
			metrics.AddSubscriptionsCanceled(model.CancelReasonGraceExpired, res.Successful)
		}
		return res, err
	case JobReconcile:
		res, err := r.jobs.ReconcilePendingPayments(ctx)
		if res != nil {
			metrics.AddJobItems(string(job), "successful", res.Successful)
			metrics.AddJobItems(string(job), "failed", res.Failed)
		}
		return res, err
	default:
		return nil, fmt.Errorf("%w: unknown job %q", domain.ErrInvalidArgument, job)
	}
}
