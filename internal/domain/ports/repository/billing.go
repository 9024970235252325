package repository

import (
	"context"
	"time"

	"trading-edu-billing/internal/domain/model"
)

// BillingRepository is the port for billing records.
type BillingRepository interface {
	Create(ctx context.Context, tx Tx, rec *model.BillingRecord) error
	Update(ctx context.Context, tx Tx, rec *model.BillingRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.BillingRecord, error)
	// FindByStatus lists records in status, oldest first. When dueBefore is
	// set only records whose next_retry_at is at or before it are returned.
	FindByStatus(ctx context.Context, tx Tx, status model.BillingStatus, dueBefore *time.Time, limit int) ([]*model.BillingRecord, error)
	// TransitionStatus moves a record from -> to only if it is currently in
	// from. It reports whether the row changed.
	TransitionStatus(ctx context.Context, tx Tx, id string, from, to model.BillingStatus) (bool, error)
	// SupersedeRetrying moves every RETRYING record of the subscription,
	// except exceptID, to FAILED and returns how many changed.
	SupersedeRetrying(ctx context.Context, tx Tx, subscriptionID, exceptID string) (int, error)
	// FindStalePending lists PENDING records last touched before cutoff,
	// oldest first.
	FindStalePending(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.BillingRecord, error)
}
