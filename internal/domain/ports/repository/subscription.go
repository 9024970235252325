package repository

import (
	"context"
	"time"

	"trading-edu-billing/internal/domain/model"
)

// SubscriptionFilter selects subscriptions for the batch jobs. Zero-valued
// fields are ignored.
type SubscriptionFilter struct {
	Statuses []model.SubscriptionStatus
	// PeriodEndBefore matches current_period_end <= the given time.
	PeriodEndBefore *time.Time
	// GraceEndsBefore matches grace_ends_at <= the given time, or a missing
	// grace deadline.
	GraceEndsBefore *time.Time
	// WithoutRetrySchedule matches rows with no pending next_retry_at.
	WithoutRetrySchedule bool
	Limit                int
}

// SubscriptionRepository is the port for subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, tx Tx, sub *model.Subscription) error
	// Update writes sub if its stored version still equals sub.Version and
	// bumps sub.Version. It returns domain.ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	// FindByUserAndStatuses returns the user's subscriptions in the given
	// statuses, most recent first.
	FindByUserAndStatuses(ctx context.Context, tx Tx, userID string, statuses []model.SubscriptionStatus) ([]*model.Subscription, error)
	FindMany(ctx context.Context, tx Tx, f SubscriptionFilter) ([]*model.Subscription, error)
	// LockUser serializes subscription writes for one user until tx ends.
	LockUser(ctx context.Context, tx Tx, userID string) error
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
