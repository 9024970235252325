package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"trading-edu-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive      SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue     SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusGracePeriod SubscriptionStatus = "GRACE_PERIOD"
	SubscriptionStatusCanceled    SubscriptionStatus = "CANCELED"
)

// LiveStatuses are the statuses that count as "has a subscription": at most
// one subscription per user may be in one of them.
var LiveStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusGracePeriod,
}

// Cancellation reasons recorded on the subscription.
const (
	CancelReasonUserRequest         = "user_request"
	CancelReasonRetriesExhausted    = "retries_exhausted"
	CancelReasonGraceExpired        = "grace_period_expired"
	CancelReasonInitialChargeFailed = "initial_charge_failed" // first charge could not be attempted
)

// Subscription is a user's recurring billing agreement for one plan.
type Subscription struct {
	ID                 string
	UserID             string
	Plan               PlanCode
	Status             SubscriptionStatus
	PaymentMethod      string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	// Dunning state. FailedAttempts counts consecutive failed charges and is
	// reset on success.
	FailedAttempts int
	NextRetryAt    *time.Time
	GraceEndsAt    *time.Time

	CanceledAt   *time.Time
	CancelReason string

	// Version is bumped on every write; updates are conditional on it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscription creates an ACTIVE subscription whose first period starts now.
func NewSubscription(userID string, plan *Plan, paymentMethod string, now time.Time) (*Subscription, error) {
	if userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Plan:               plan.Code,
		Status:             SubscriptionStatusActive,
		PaymentMethod:      paymentMethod,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.AddInterval(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func IsLiveStatus(s SubscriptionStatus) bool { return lo.Contains(LiveStatuses, s) }

func (s *Subscription) IsLive() bool     { return s != nil && IsLiveStatus(s.Status) }
func (s *Subscription) IsCanceled() bool { return s != nil && s.Status == SubscriptionStatusCanceled }

// IsDue reports whether the current period has ended.
func (s *Subscription) IsDue(now time.Time) bool {
	return !s.CurrentPeriodEnd.After(now)
}

// Renew records a successful charge: a fresh period starting at now, and the
// dunning state cleared.
func (s *Subscription) Renew(plan *Plan, now time.Time) {
	s.CurrentPeriodStart = now
	s.CurrentPeriodEnd = plan.AddInterval(now)
	s.Status = SubscriptionStatusActive
	s.FailedAttempts = 0
	s.NextRetryAt = nil
	s.GraceEndsAt = nil
	s.UpdatedAt = now
}

// MarkPastDue records a failed charge that will be retried.
func (s *Subscription) MarkPastDue(attempts int, nextRetry, graceEnds time.Time, now time.Time) {
	s.Status = SubscriptionStatusPastDue
	s.FailedAttempts = attempts
	s.NextRetryAt = &nextRetry
	s.GraceEndsAt = &graceEnds
	s.UpdatedAt = now
}

// Cancel moves the subscription to its terminal state. It reports false when
// the subscription was already canceled.
func (s *Subscription) Cancel(reason string, now time.Time) bool {
	if s.IsCanceled() {
		return false
	}
	s.Status = SubscriptionStatusCanceled
	s.CancelReason = reason
	s.CanceledAt = &now
	s.NextRetryAt = nil
	s.UpdatedAt = now
	return true
}
