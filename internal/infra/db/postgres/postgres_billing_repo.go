package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/repository"
)

var _ repository.BillingRepository = (*billingRepo)(nil)

const billingColumns = `id, user_id, subscription_id, amount_cents, currency, status, attempt,
       payment_intent_id, failure_reason, next_retry_at, created_at, updated_at`

type billingRepo struct {
	pool *pgxpool.Pool
}

func NewBillingRepo(pool *pgxpool.Pool) *billingRepo {
	return &billingRepo{pool: pool}
}

func (r *billingRepo) Create(ctx context.Context, tx repository.Tx, b *model.BillingRecord) error {
	const q = `
INSERT INTO billing_records (` + billingColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`
	_, err := execSQL(ctx, r.pool, tx, q,
		b.ID, b.UserID, b.SubscriptionID, b.Amount, b.Currency, string(b.Status), b.Attempt,
		b.PaymentIntentID, b.FailureReason, b.NextRetryAt, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *billingRepo) Update(ctx context.Context, tx repository.Tx, b *model.BillingRecord) error {
	const q = `
UPDATE billing_records SET
  status=$2, payment_intent_id=$3, failure_reason=$4, next_retry_at=$5, updated_at=$6
 WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, b.ID, string(b.Status), b.PaymentIntentID, b.FailureReason, b.NextRetryAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: billing record %s", domain.ErrNotFound, b.ID)
	}
	return nil
}

func (r *billingRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BillingRecord, error) {
	q := `SELECT ` + billingColumns + ` FROM billing_records WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanBilling(row)
}

func (r *billingRepo) FindByStatus(ctx context.Context, tx repository.Tx, status model.BillingStatus, dueBefore *time.Time, limit int) ([]*model.BillingRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT ` + billingColumns + `
  FROM billing_records
 WHERE status=$1
   AND ($2::timestamptz IS NULL OR next_retry_at <= $2)
 ORDER BY created_at ASC
 LIMIT $3;`
	return r.queryMany(ctx, tx, q, string(status), dueBefore, limit)
}

func (r *billingRepo) FindStalePending(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.BillingRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT ` + billingColumns + `
  FROM billing_records
 WHERE status='PENDING' AND updated_at <= $1
 ORDER BY updated_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, cutoff, limit)
}

func (r *billingRepo) SupersedeRetrying(ctx context.Context, tx repository.Tx, subscriptionID, exceptID string) (int, error) {
	const q = `
UPDATE billing_records SET status='FAILED', updated_at=NOW()
 WHERE subscription_id=$1 AND status='RETRYING' AND id<>$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, subscriptionID, exceptID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *billingRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.BillingRecord, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BillingRecord
	for rows.Next() {
		b, err := scanBilling(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *billingRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.BillingStatus) (bool, error) {
	const q = `UPDATE billing_records SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanBilling(row pgx.Row) (*model.BillingRecord, error) {
	b := &model.BillingRecord{}
	var status string
	if err := row.Scan(&b.ID, &b.UserID, &b.SubscriptionID, &b.Amount, &b.Currency, &status, &b.Attempt,
		&b.PaymentIntentID, &b.FailureReason, &b.NextRetryAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	b.Status = model.BillingStatus(status)
	return b, nil
}
