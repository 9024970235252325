package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/samber/lo"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

const subColumns = `id, user_id, plan, status, payment_method, current_period_start, current_period_end,
       failed_attempts, next_retry_at, grace_ends_at, canceled_at, cancel_reason, version, created_at, updated_at`

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1,$13,$14);`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, string(s.Plan), string(s.Status), s.PaymentMethod, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.FailedAttempts, s.NextRetryAt, s.GraceEndsAt, s.CanceledAt, s.CancelReason, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	s.Version = 1
	return nil
}

// Update is a compare-and-swap on version.
func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
UPDATE subscriptions SET
  status=$3, payment_method=$4, current_period_start=$5, current_period_end=$6,
  failed_attempts=$7, next_retry_at=$8, grace_ends_at=$9, canceled_at=$10, cancel_reason=$11,
  updated_at=$12, version=version+1
 WHERE id=$1 AND version=$2;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.Version, string(s.Status), s.PaymentMethod, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.FailedAttempts, s.NextRetryAt, s.GraceEndsAt, s.CanceledAt, s.CancelReason, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: subscription %s at version %d", domain.ErrConcurrentUpdate, s.ID, s.Version)
	}
	s.Version++
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) FindByUserAndStatuses(ctx context.Context, tx repository.Tx, userID string, statuses []model.SubscriptionStatus) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subColumns + `
  FROM subscriptions
 WHERE user_id=$1 AND status = ANY($2)
 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, userID, statusStrings(statuses))
}

func (r *subscriptionRepo) FindMany(ctx context.Context, tx repository.Tx, f repository.SubscriptionFilter) ([]*model.Subscription, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(f.Statuses))+")")
	}
	if f.PeriodEndBefore != nil {
		where = append(where, "current_period_end <= "+arg(*f.PeriodEndBefore))
	}
	if f.GraceEndsBefore != nil {
		where = append(where, "(grace_ends_at IS NULL OR grace_ends_at <= "+arg(*f.GraceEndsBefore)+")")
	}
	if f.WithoutRetrySchedule {
		where = append(where, "next_retry_at IS NULL")
	}

	q := `SELECT ` + subColumns + ` FROM subscriptions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY current_period_end ASC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	return r.queryMany(ctx, tx, q+";", args...)
}

// LockUser takes a transaction-scoped advisory lock keyed by the user id.
func (r *subscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if !inTx(tx) {
		return fmt.Errorf("%w: LockUser needs a transaction", domain.ErrInvalidExecContext)
	}
	_, err := execSQL(ctx, r.pool, tx, "SELECT pg_advisory_xact_lock($1);", hashToInt64(userID))
	return err
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, scanErr(err)
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var plan, status string
	if err := row.Scan(&s.ID, &s.UserID, &plan, &status, &s.PaymentMethod, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.FailedAttempts, &s.NextRetryAt, &s.GraceEndsAt, &s.CanceledAt, &s.CancelReason, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	s.Plan = model.PlanCode(plan)
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}

func statusStrings(ss []model.SubscriptionStatus) []string {
	return lo.Map(ss, func(s model.SubscriptionStatus, _ int) string { return string(s) })
}
