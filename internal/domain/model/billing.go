package model

import (
	"time"

	"github.com/google/uuid"

	"trading-edu-billing/internal/domain"
)

type BillingStatus string

const (
	BillingStatusPending   BillingStatus = "PENDING"   // created, gateway round trip in flight
	BillingStatusSucceeded BillingStatus = "SUCCEEDED" // payment confirmed
	BillingStatusFailed    BillingStatus = "FAILED"    // terminal failure or superseded by a retry
	BillingStatusRetrying  BillingStatus = "RETRYING"  // failed, will be retried at NextRetryAt
)

// BillingRecord is a single attempted charge for a subscription's cycle.
type BillingRecord struct {
	ID              string
	UserID          string
	SubscriptionID  string
	Amount          int64 // minor units
	Currency        string
	Status          BillingStatus
	Attempt         int // 1-based position in the current dunning run
	PaymentIntentID string
	FailureReason   string
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewBillingRecord creates a PENDING record for one charge of the plan.
func NewBillingRecord(sub *Subscription, plan *Plan, now time.Time) (*BillingRecord, error) {
	if sub == nil || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	return &BillingRecord{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Amount:         plan.AmountCents,
		Currency:       plan.Currency,
		Status:         BillingStatusPending,
		Attempt:        sub.FailedAttempts + 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsTerminal reports whether the gateway round trip has been recorded. A
// RETRYING record is final too; the retry writes a new record.
func (b *BillingRecord) IsTerminal() bool {
	return b.Status != BillingStatusPending
}
