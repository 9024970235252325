package usecase

import (
	"fmt"
	"strings"
	"time"

	"trading-edu-billing/internal/config"
	"trading-edu-billing/internal/domain/model"
)

// RetryPolicy decides what happens after a failed charge. Attempts are the
// persisted count of consecutive failures, starting at 1.
type RetryPolicy struct {
	MaxAttempts int
	Schedule    []time.Duration
	GracePeriod time.Duration
}

func NewRetryPolicy(maxAttempts int, scheduleDays []int, graceDays int) RetryPolicy {
	sched := make([]time.Duration, 0, len(scheduleDays))
	for _, d := range scheduleDays {
		sched = append(sched, time.Duration(d)*24*time.Hour)
	}
	if len(sched) == 0 {
		sched = []time.Duration{24 * time.Hour}
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Schedule:    sched,
		GracePeriod: time.Duration(graceDays) * 24 * time.Hour,
	}
}

// Exhausted reports whether attempts reached the retry ceiling.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Backoff returns the wait before the next retry after the given failure.
// Counts past the schedule length reuse the last interval.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Schedule) {
		i = len(p.Schedule) - 1
	}
	return p.Schedule[i]
}

func (p RetryPolicy) NextRetryAt(attempts int, now time.Time) time.Time {
	return now.Add(p.Backoff(attempts))
}

// retryGraceMargin keeps a scheduled retry inside the grace window so the
// grace sweep cannot cancel ahead of it.
const retryGraceMargin = time.Hour

// GraceDeadline is now plus the grace period, extended past nextRetry when
// the retry would otherwise land after it.
func (p RetryPolicy) GraceDeadline(now, nextRetry time.Time) time.Time {
	deadline := now.Add(p.GracePeriod)
	if floor := nextRetry.Add(retryGraceMargin); floor.After(deadline) {
		return floor
	}
	return deadline
}

// NewPlanCatalogFromConfig builds the plan catalog from the billing config.
func NewPlanCatalogFromConfig(cfg config.BillingConfig) (*model.PlanCatalog, error) {
	plans := make([]*model.Plan, 0, len(cfg.Plans))
	for key, pc := range cfg.Plans {
		code, err := model.ParsePlanCode(key)
		if err != nil {
			return nil, err
		}
		role := model.Role(strings.ToUpper(pc.Role))
		if role == "" {
			role = model.RoleSignals
		}
		p, err := model.NewPlan(code, pc.IntervalMonths, pc.Price, cfg.Currency, role)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", key, err)
		}
		plans = append(plans, p)
	}
	return model.NewPlanCatalog(plans...), nil
}
