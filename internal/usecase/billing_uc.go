// File: internal/usecase/billing_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/adapter"
	"trading-edu-billing/internal/domain/ports/repository"
	ucport "trading-edu-billing/internal/domain/ports/usecase"
	"trading-edu-billing/internal/infra/logging"
)

// Compile-time checks
var (
	_ BillingUseCase     = (*billingUC)(nil)
	_ ucport.BillingJobs = (*billingUC)(nil)
)

// BillingUseCase owns the subscription billing lifecycle. It is the only
// writer of subscription status and of the role projected onto the user.
type BillingUseCase interface {
	CreateSubscription(ctx context.Context, userID string, plan model.PlanCode, paymentMethod string) (*CreateSubscriptionResult, error)
	ProcessBilling(ctx context.Context, subscriptionID string) (*BillingOutcome, error)
	ProcessDueSubscriptions(ctx context.Context) (*ucport.BatchResult, error)
	ProcessGracePeriodExpirations(ctx context.Context) (*ucport.BatchResult, error)
	RetryFailedPayments(ctx context.Context) (*ucport.RetryResult, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) (*model.Subscription, error)
	GetUserSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatusView, error)
	ReconcilePendingPayments(ctx context.Context) (*ucport.BatchResult, error)
}

// BillingOutcome is the result of one charge attempt. Gateway declines and
// transport errors are reported here, not as a Go error.
type BillingOutcome struct {
	Success            bool                     `json:"success"`
	SubscriptionID     string                   `json:"subscription_id"`
	BillingRecordID    string                   `json:"billing_record_id"`
	PaymentIntentID    string                   `json:"payment_intent_id,omitempty"`
	Status             model.BillingStatus      `json:"status"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	Attempt            int                      `json:"attempt"`
	NextRetryAt        *time.Time               `json:"next_retry_at,omitempty"`
	Error              string                   `json:"error,omitempty"`
}

// CreateSubscriptionResult reports a new subscription and its first charge.
// Success mirrors the first charge. Billing is nil when the first charge could
// not run at all; the subscription is then canceled.
type CreateSubscriptionResult struct {
	Success        bool            `json:"success"`
	SubscriptionID string          `json:"subscription_id"`
	Billing        *BillingOutcome `json:"billing"`
	Error          string          `json:"error,omitempty"`
}

// SubscriptionStatusView answers "is this user subscribed".
type SubscriptionStatusView struct {
	HasActiveSubscription bool                `json:"has_active_subscription"`
	Subscription          *model.Subscription `json:"subscription,omitempty"`
	NextBillingDate       *time.Time          `json:"next_billing_date,omitempty"`
}

// BillingDeps groups the collaborators of the billing use case.
type BillingDeps struct {
	Subscriptions repository.SubscriptionRepository
	Billing       repository.BillingRepository
	Users         repository.UserRepository
	Tx            repository.TransactionManager
	Gateway       adapter.PaymentGateway
	Notifier      adapter.BillingNotifier // optional
	Locker        adapter.Locker          // optional
	Plans         *model.PlanCatalog
}

// BillingOptions tunes the billing use case.
type BillingOptions struct {
	Policy               RetryPolicy
	GatewayTimeout       time.Duration
	DefaultPaymentMethod string
	BaseRole             model.Role
	BatchLimit           int
	LockTTL              time.Duration
	StaleAfter           time.Duration // age of a PENDING record before reconciliation
	Now                  func() time.Time
}

type billingUC struct {
	subs     repository.SubscriptionRepository
	billing  repository.BillingRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	gateway  adapter.PaymentGateway
	notifier adapter.BillingNotifier
	locker   adapter.Locker
	plans    *model.PlanCatalog
	opts     BillingOptions
	log      *zerolog.Logger
}

func NewBillingUseCase(deps BillingDeps, opts BillingOptions, logger *zerolog.Logger) *billingUC {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = NewRetryPolicy(3, []int{1, 3, 7}, 3)
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 15 * time.Second
	}
	if opts.BaseRole == "" {
		opts.BaseRole = model.RoleUser
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 500
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	compLog := logger.With().Str("component", "BillingUC").Logger()
	return &billingUC{
		subs:     deps.Subscriptions,
		billing:  deps.Billing,
		users:    deps.Users,
		tm:       deps.Tx,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		locker:   deps.Locker,
		plans:    deps.Plans,
		opts:     opts,
		log:      &compLog,
	}
}

func (uc *billingUC) now() time.Time { return uc.opts.Now() }

// CreateSubscription opens a new ACTIVE subscription and bills it
// immediately. The duplicate check and insert run under a per-user
// transaction lock.
func (uc *billingUC) CreateSubscription(ctx context.Context, userID string, code model.PlanCode, paymentMethod string) (*CreateSubscriptionResult, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.CreateSubscription")()

	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := uc.plans.Get(code)
	if err != nil {
		return nil, err
	}
	if paymentMethod == "" {
		paymentMethod = uc.opts.DefaultPaymentMethod
	}

	var sub *model.Subscription
	err = uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := uc.users.FindByID(ctx, tx, userID); err != nil {
			return err
		}
		live, err := uc.subs.FindByUserAndStatuses(ctx, tx, userID, model.LiveStatuses)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return domain.ErrDuplicateSubscription
		}
		s, err := model.NewSubscription(userID, plan, paymentMethod, uc.now())
		if err != nil {
			return err
		}
		if err := uc.subs.Create(ctx, tx, s); err != nil {
			return err
		}
		sub = s
		return uc.syncRole(ctx, tx, s, plan)
	})
	if err != nil {
		return nil, err
	}

	l := uc.log.With().Str("user_id", userID).Str("subscription_id", sub.ID).Logger()
	l.Info().Str("plan", string(plan.Code)).Msg("subscription created")

	outcome, err := uc.ProcessBilling(ctx, sub.ID)
	if err != nil {
		// an unbilled subscription must not keep the access it was created with
		l.Error().Err(err).Msg("first charge could not run; canceling subscription")
		if _, cerr := uc.cancel(context.WithoutCancel(ctx), sub.ID, model.CancelReasonInitialChargeFailed); cerr != nil {
			return nil, errors.Join(fmt.Errorf("bill new subscription %s: %w", sub.ID, err), cerr)
		}
		return &CreateSubscriptionResult{
			Success:        false,
			SubscriptionID: sub.ID,
			Error:          errFirstChargeNotRun.Error(),
		}, nil
	}
	return &CreateSubscriptionResult{
		Success:        outcome.Success,
		SubscriptionID: sub.ID,
		Billing:        outcome,
		Error:          outcome.Error,
	}, nil
}

var (
	errFirstChargeNotRun = errors.New("first charge could not be processed; subscription not started")
	errChargeInterrupted = errors.New("charge interrupted before reaching the payment provider")
	// errNotEligible means a batch job found the subscription already handled
	// once it held the billing lock.
	errNotEligible = errors.New("subscription no longer eligible for this run")
)

func billingLockKey(subscriptionID string) string {
	return "billing:subscription:" + subscriptionID
}

// dueForRenewal holds for ACTIVE subscriptions whose period ended and for
// PAST_DUE ones without a retry schedule.
func dueForRenewal(s *model.Subscription, now time.Time) bool {
	switch s.Status {
	case model.SubscriptionStatusActive:
		return s.IsDue(now)
	case model.SubscriptionStatusPastDue:
		return s.NextRetryAt == nil && s.IsDue(now)
	}
	return false
}

func dueForRetry(s *model.Subscription, now time.Time) bool {
	return s.Status == model.SubscriptionStatusPastDue && s.NextRetryAt != nil && !s.NextRetryAt.After(now)
}

// ProcessBilling attempts one charge for the subscription's plan price.
// A held billing lock yields domain.ErrBillingInProgress with no state change.
func (uc *billingUC) ProcessBilling(ctx context.Context, subscriptionID string) (*BillingOutcome, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.ProcessBilling")()
	return uc.bill(ctx, subscriptionID, nil)
}

// bill runs one charge under the subscription's billing lock. When eligible
// is set it is re-checked against the locked row and errNotEligible is
// returned without charging if it fails.
func (uc *billingUC) bill(ctx context.Context, subscriptionID string, eligible func(*model.Subscription, time.Time) bool) (*BillingOutcome, error) {
	ctx = logging.WithSubscriptionID(ctx, subscriptionID)
	l := logging.With(ctx, uc.log)

	unlock, err := uc.acquire(ctx, billingLockKey(subscriptionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		sub  *model.Subscription
		plan *model.Plan
		rec  *model.BillingRecord
	)
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if s.IsCanceled() {
			return domain.ErrSubscriptionCanceled
		}
		if eligible != nil && !eligible(s, uc.now()) {
			return errNotEligible
		}
		p, err := uc.plans.Get(s.Plan)
		if err != nil {
			return err
		}
		r, err := model.NewBillingRecord(s, p, uc.now())
		if err != nil {
			return err
		}
		if err := uc.billing.Create(ctx, tx, r); err != nil {
			return err
		}
		sub, plan, rec = s, p, r
		return nil
	})
	if err != nil {
		return nil, err
	}

	chErr := uc.charge(ctx, sub, rec)
	var ge *gatewayError
	switch {
	case chErr == nil:
		return uc.recordSuccess(ctx, sub.ID, plan, rec)
	case errors.As(chErr, &ge):
		l.Warn().Err(chErr).Int("attempt", rec.Attempt).
			Str("payment_method", logging.Redact(sub.PaymentMethod)).
			Msg("charge failed")
		return uc.recordFailure(ctx, sub.ID, plan, rec, chErr)
	default:
		// nothing was confirmed; the PENDING record is left for reconciliation
		return nil, chErr
	}
}

// charge runs the gateway round trip under the configured timeout. The
// intent id is persisted on rec before confirmation so an interrupted charge
// can be reconciled against the provider.
func (uc *billingUC) charge(ctx context.Context, sub *model.Subscription, rec *model.BillingRecord) error {
	gctx, cancel := context.WithTimeout(ctx, uc.opts.GatewayTimeout)
	defer cancel()

	pm := sub.PaymentMethod
	if pm == "" {
		pm = uc.opts.DefaultPaymentMethod
	}
	meta := map[string]string{
		"subscription_id":   sub.ID,
		"billing_record_id": rec.ID,
		"user_id":           sub.UserID,
		"plan":              string(sub.Plan),
		"attempt":           fmt.Sprint(rec.Attempt),
		"payment_method":    pm,
	}
	intent, err := uc.gateway.CreatePaymentIntent(gctx, rec.Amount, rec.Currency, meta)
	if err != nil {
		return &gatewayError{op: "create payment intent", err: err}
	}
	rec.PaymentIntentID = intent.ID
	rec.UpdatedAt = uc.now()
	if err := uc.billing.Update(ctx, repository.NoTX, rec); err != nil {
		return fmt.Errorf("record payment intent %s: %w", intent.ID, err)
	}
	if err := uc.gateway.ConfirmPayment(gctx, intent.ID, pm); err != nil {
		return &gatewayError{op: "confirm payment", err: err}
	}
	return nil
}

func (uc *billingUC) recordSuccess(ctx context.Context, subID string, plan *model.Plan, rec *model.BillingRecord) (*BillingOutcome, error) {
	now := uc.now()
	var sub *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rec.Status = model.BillingStatusSucceeded
		rec.UpdatedAt = now
		if err := uc.billing.Update(ctx, tx, rec); err != nil {
			return err
		}
		// this charge settles the cycle; older retries must not charge it again
		if err := uc.supersede(ctx, tx, subID, rec.ID); err != nil {
			return err
		}
		s, err := uc.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		sub = s
		if s.IsCanceled() {
			// canceled while the charge was in flight; keep it terminal
			logging.With(ctx, uc.log).Warn().Str("billing_record_id", rec.ID).Msg("charge succeeded for a subscription canceled mid-flight")
			return nil
		}
		s.Renew(plan, now)
		if err := uc.subs.Update(ctx, tx, s); err != nil {
			return err
		}
		return uc.syncRole(ctx, tx, s, plan)
	})
	if err != nil {
		return nil, err
	}

	logging.With(ctx, uc.log).Info().
		Str("billing_record_id", rec.ID).
		Time("period_end", sub.CurrentPeriodEnd).
		Msg("charge succeeded")
	return &BillingOutcome{
		Success:            true,
		SubscriptionID:     sub.ID,
		BillingRecordID:    rec.ID,
		PaymentIntentID:    rec.PaymentIntentID,
		Status:             rec.Status,
		SubscriptionStatus: sub.Status,
		Attempt:            rec.Attempt,
	}, nil
}

// recordFailure applies the dunning policy: below the ceiling the record is
// RETRYING and the subscription PAST_DUE with a persisted grace deadline; at
// the ceiling the record is FAILED and the subscription CANCELED.
func (uc *billingUC) recordFailure(ctx context.Context, subID string, plan *model.Plan, rec *model.BillingRecord, gwErr error) (*BillingOutcome, error) {
	now := uc.now()
	var (
		sub      *model.Subscription
		canceled bool
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		sub = s
		rec.FailureReason = gatewayMessage(gwErr)
		rec.UpdatedAt = now

		if s.IsCanceled() {
			rec.Status = model.BillingStatusFailed
			if err := uc.billing.Update(ctx, tx, rec); err != nil {
				return err
			}
			return uc.supersede(ctx, tx, subID, rec.ID)
		}

		attempts := s.FailedAttempts + 1
		if uc.opts.Policy.Exhausted(attempts) {
			rec.Status = model.BillingStatusFailed
			s.FailedAttempts = attempts
			canceled = s.Cancel(model.CancelReasonRetriesExhausted, now)
		} else {
			next := uc.opts.Policy.NextRetryAt(attempts, now)
			rec.Status = model.BillingStatusRetrying
			rec.NextRetryAt = &next
			s.MarkPastDue(attempts, next, uc.opts.Policy.GraceDeadline(now, next), now)
		}
		if err := uc.billing.Update(ctx, tx, rec); err != nil {
			return err
		}
		// at most one RETRYING record per subscription: this one
		if err := uc.supersede(ctx, tx, subID, rec.ID); err != nil {
			return err
		}
		if err := uc.subs.Update(ctx, tx, s); err != nil {
			return err
		}
		return uc.syncRole(ctx, tx, s, plan)
	})
	if err != nil {
		return nil, err
	}

	uc.notifyPaymentFailed(ctx, sub, rec)
	if canceled {
		logging.With(ctx, uc.log).Info().Int("attempts", sub.FailedAttempts).Msg("subscription canceled: retries exhausted")
		uc.notifyCanceled(ctx, sub)
	}
	return &BillingOutcome{
		Success:            false,
		SubscriptionID:     sub.ID,
		BillingRecordID:    rec.ID,
		PaymentIntentID:    rec.PaymentIntentID,
		Status:             rec.Status,
		SubscriptionStatus: sub.Status,
		Attempt:            rec.Attempt,
		NextRetryAt:        rec.NextRetryAt,
		Error:              rec.FailureReason,
	}, nil
}

// ProcessDueSubscriptions bills every ACTIVE subscription whose period ended,
// plus PAST_DUE ones that have no retry scheduled (retries are owned by
// RetryFailedPayments). Individual failures are tallied, never returned.
func (uc *billingUC) ProcessDueSubscriptions(ctx context.Context) (*ucport.BatchResult, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.ProcessDueSubscriptions")()

	now := uc.now()
	active, err := uc.subs.FindMany(ctx, repository.NoTX, repository.SubscriptionFilter{
		Statuses:        []model.SubscriptionStatus{model.SubscriptionStatusActive},
		PeriodEndBefore: &now,
		Limit:           uc.opts.BatchLimit,
	})
	if err != nil {
		return nil, err
	}
	pastDue, err := uc.subs.FindMany(ctx, repository.NoTX, repository.SubscriptionFilter{
		Statuses:             []model.SubscriptionStatus{model.SubscriptionStatusPastDue},
		PeriodEndBefore:      &now,
		WithoutRetrySchedule: true,
		Limit:                uc.opts.BatchLimit,
	})
	if err != nil {
		return nil, err
	}

	res := &ucport.BatchResult{}
	for _, s := range append(active, pastDue...) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		out, err := uc.bill(ctx, s.ID, dueForRenewal)
		if errors.Is(err, errNotEligible) {
			uc.log.Debug().Str("subscription_id", s.ID).Msg("due billing skipped: renewed since listing")
			continue
		}
		res.Processed++
		switch {
		case err != nil:
			res.Failed++
			uc.log.Error().Err(err).Str("subscription_id", s.ID).Msg("due billing failed")
		case out.Success:
			res.Successful++
		default:
			res.Failed++
		}
	}
	uc.log.Info().Int("processed", res.Processed).Int("successful", res.Successful).Int("failed", res.Failed).Msg("due subscriptions processed")
	return res, nil
}

// ProcessGracePeriodExpirations cancels past-due subscriptions whose stored
// grace deadline has passed. Rows without a deadline are treated as expired.
func (uc *billingUC) ProcessGracePeriodExpirations(ctx context.Context) (*ucport.BatchResult, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.ProcessGracePeriodExpirations")()

	now := uc.now()
	expired, err := uc.subs.FindMany(ctx, repository.NoTX, repository.SubscriptionFilter{
		Statuses:        []model.SubscriptionStatus{model.SubscriptionStatusPastDue, model.SubscriptionStatusGracePeriod},
		GraceEndsBefore: &now,
		Limit:           uc.opts.BatchLimit,
	})
	if err != nil {
		return nil, err
	}

	res := &ucport.BatchResult{}
	for _, s := range expired {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++
		if _, err := uc.cancel(ctx, s.ID, model.CancelReasonGraceExpired); err != nil {
			res.Failed++
			uc.log.Error().Err(err).Str("subscription_id", s.ID).Msg("grace expiry cancel failed")
			continue
		}
		res.Successful++
	}
	uc.log.Info().Int("processed", res.Processed).Int("canceled", res.Successful).Int("failed", res.Failed).Msg("grace period expirations processed")
	return res, nil
}

// RetryFailedPayments re-bills subscriptions whose RETRYING record is due.
// Each record is claimed (RETRYING -> FAILED) before the new attempt so
// concurrent runs never re-bill it twice.
func (uc *billingUC) RetryFailedPayments(ctx context.Context) (*ucport.RetryResult, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.RetryFailedPayments")()

	now := uc.now()
	recs, err := uc.billing.FindByStatus(ctx, repository.NoTX, model.BillingStatusRetrying, &now, uc.opts.BatchLimit)
	if err != nil {
		return nil, err
	}

	res := &ucport.RetryResult{}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		l := uc.log.With().Str("billing_record_id", rec.ID).Str("subscription_id", rec.SubscriptionID).Logger()

		sub, err := uc.subs.FindByID(ctx, repository.NoTX, rec.SubscriptionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			res.Failed++
			l.Error().Err(err).Msg("retry: load subscription failed")
			continue
		}
		if !sub.IsLive() {
			// nothing left to retry against; close the record out
			if _, err := uc.billing.TransitionStatus(ctx, repository.NoTX, rec.ID, model.BillingStatusRetrying, model.BillingStatusFailed); err != nil {
				l.Error().Err(err).Msg("retry: close orphaned record failed")
			}
			res.Failed++
			l.Info().Msg("retry skipped: subscription no longer live")
			continue
		}
		if !dueForRetry(sub, now) {
			// paid or rescheduled since the record was written
			if _, err := uc.billing.TransitionStatus(ctx, repository.NoTX, rec.ID, model.BillingStatusRetrying, model.BillingStatusFailed); err != nil {
				l.Error().Err(err).Msg("retry: close stale record failed")
			}
			l.Info().Str("subscription_status", string(sub.Status)).Msg("retry skipped: subscription is not awaiting this retry")
			continue
		}

		claimed, err := uc.billing.TransitionStatus(ctx, repository.NoTX, rec.ID, model.BillingStatusRetrying, model.BillingStatusFailed)
		if err != nil {
			res.Failed++
			l.Error().Err(err).Msg("retry: claim failed")
			continue
		}
		if !claimed {
			continue
		}

		out, err := uc.bill(ctx, sub.ID, dueForRetry)
		if errors.Is(err, errNotEligible) {
			l.Info().Msg("retry skipped: settled while waiting for the billing lock")
			continue
		}
		res.Retried++
		switch {
		case errors.Is(err, domain.ErrBillingInProgress):
			// nothing was charged; hand the record back for the next run
			res.Failed++
			if _, uerr := uc.billing.TransitionStatus(ctx, repository.NoTX, rec.ID, model.BillingStatusFailed, model.BillingStatusRetrying); uerr != nil {
				l.Error().Err(uerr).Msg("retry: release claim failed")
			}
			l.Info().Msg("retry deferred: billing in progress elsewhere")
		case err != nil:
			res.Failed++
			l.Error().Err(err).Msg("retry billing failed")
		case out.Success:
			res.Successful++
		default:
			res.Failed++
		}
	}
	uc.log.Info().Int("retried", res.Retried).Int("successful", res.Successful).Int("failed", res.Failed).Msg("failed payments retried")
	return res, nil
}

// ReconcilePendingPayments settles PENDING records left behind by a crash or
// a failed write after the gateway round trip. Intents the provider reports
// as captured are recorded as paid; everything else is a failed attempt and
// goes through the normal dunning path.
func (uc *billingUC) ReconcilePendingPayments(ctx context.Context) (*ucport.BatchResult, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.ReconcilePendingPayments")()

	cutoff := uc.now().Add(-uc.opts.StaleAfter)
	stale, err := uc.billing.FindStalePending(ctx, repository.NoTX, cutoff, uc.opts.BatchLimit)
	if err != nil {
		return nil, err
	}

	res := &ucport.BatchResult{}
	for _, rec := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++
		paid, err := uc.reconcile(ctx, rec.ID, rec.SubscriptionID)
		switch {
		case err != nil:
			res.Failed++
			uc.log.Error().Err(err).Str("billing_record_id", rec.ID).Str("subscription_id", rec.SubscriptionID).Msg("reconcile failed")
		case paid:
			res.Successful++
		default:
			res.Failed++
		}
	}
	uc.log.Info().Int("processed", res.Processed).Int("paid", res.Successful).Int("failed", res.Failed).Msg("pending payments reconciled")
	return res, nil
}

func (uc *billingUC) reconcile(ctx context.Context, recID, subID string) (bool, error) {
	ctx = logging.WithSubscriptionID(ctx, subID)
	unlock, err := uc.acquire(ctx, billingLockKey(subID))
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := uc.billing.FindByID(ctx, repository.NoTX, recID)
	if err != nil {
		return false, err
	}
	if rec.IsTerminal() {
		// settled by a charge that finished after the listing
		return rec.Status == model.BillingStatusSucceeded, nil
	}
	sub, err := uc.subs.FindByID(ctx, repository.NoTX, subID)
	if err != nil {
		return false, err
	}
	plan, err := uc.plans.Get(sub.Plan)
	if err != nil {
		return false, err
	}

	l := logging.With(ctx, uc.log).With().Str("billing_record_id", rec.ID).Logger()
	if rec.PaymentIntentID == "" {
		l.Warn().Msg("reconcile: charge never reached the provider")
		return false, uc.settleUnpaid(ctx, sub, plan, rec, errChargeInterrupted)
	}

	gctx, cancel := context.WithTimeout(ctx, uc.opts.GatewayTimeout)
	intent, err := uc.gateway.GetPaymentIntent(gctx, rec.PaymentIntentID)
	cancel()
	if err != nil {
		return false, fmt.Errorf("look up payment intent %s: %w", rec.PaymentIntentID, err)
	}
	if intent.Status == adapter.IntentSucceeded {
		l.Info().Str("payment_intent_id", intent.ID).Msg("reconcile: provider captured the payment")
		if _, err := uc.recordSuccess(ctx, subID, plan, rec); err != nil {
			return false, err
		}
		return true, nil
	}
	l.Warn().Str("payment_intent_id", intent.ID).Str("intent_status", intent.Status).Msg("reconcile: payment was not completed")
	return false, uc.settleUnpaid(ctx, sub, plan, rec, fmt.Errorf("payment not completed (intent %s)", intent.Status))
}

// settleUnpaid records a reconciled charge that took no money. A subscription
// renewed by a later charge only gets the record closed; otherwise the
// failure counts as a billing attempt.
func (uc *billingUC) settleUnpaid(ctx context.Context, sub *model.Subscription, plan *model.Plan, rec *model.BillingRecord, cause error) error {
	if sub.Status == model.SubscriptionStatusActive && !sub.IsDue(uc.now()) {
		rec.Status = model.BillingStatusFailed
		rec.FailureReason = cause.Error()
		rec.UpdatedAt = uc.now()
		return uc.billing.Update(ctx, repository.NoTX, rec)
	}
	_, err := uc.recordFailure(ctx, sub.ID, plan, rec, cause)
	return err
}

// CancelSubscription cancels the subscription and demotes the user's role.
// Canceling an already canceled subscription is a no-op.
func (uc *billingUC) CancelSubscription(ctx context.Context, subscriptionID, reason string) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.CancelSubscription")()
	if reason == "" {
		reason = model.CancelReasonUserRequest
	}
	return uc.cancel(ctx, subscriptionID, reason)
}

func (uc *billingUC) cancel(ctx context.Context, subscriptionID, reason string) (*model.Subscription, error) {
	var (
		sub     *model.Subscription
		changed bool
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		sub = s
		if !s.Cancel(reason, uc.now()) {
			return nil
		}
		changed = true
		if err := uc.subs.Update(ctx, tx, s); err != nil {
			return err
		}
		if err := uc.supersede(ctx, tx, s.ID, ""); err != nil {
			return err
		}
		plan, _ := uc.plans.Get(s.Plan)
		return uc.syncRole(ctx, tx, s, plan)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		uc.log.Info().Str("subscription_id", sub.ID).Str("reason", reason).Msg("subscription canceled")
		uc.notifyCanceled(ctx, sub)
	}
	return sub, nil
}

// GetUserSubscriptionStatus returns the user's most recent live subscription.
func (uc *billingUC) GetUserSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatusView, error) {
	defer logging.TraceDuration(uc.log, "BillingUC.GetUserSubscriptionStatus")()

	live, err := uc.subs.FindByUserAndStatuses(ctx, repository.NoTX, userID, model.LiveStatuses)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return &SubscriptionStatusView{}, nil
	}
	latest := live[0]
	next := latest.CurrentPeriodEnd
	return &SubscriptionStatusView{
		HasActiveSubscription: true,
		Subscription:          latest,
		NextBillingDate:       &next,
	}, nil
}

// syncRole writes the role projected from sub onto its user within tx.
// Missing users are logged and skipped.
func (uc *billingUC) syncRole(ctx context.Context, tx repository.Tx, sub *model.Subscription, plan *model.Plan) error {
	u, err := uc.users.FindByID(ctx, tx, sub.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		uc.log.Warn().Str("user_id", sub.UserID).Msg("role sync skipped: user not found")
		return nil
	}
	if err != nil {
		return err
	}
	role := model.ProjectRole(u.Role, sub, plan, uc.opts.BaseRole)
	if role == u.Role {
		return nil
	}
	return uc.users.UpdateRole(ctx, tx, u.ID, role)
}

// supersede closes the subscription's RETRYING records other than keepID.
func (uc *billingUC) supersede(ctx context.Context, tx repository.Tx, subID, keepID string) error {
	n, err := uc.billing.SupersedeRetrying(ctx, tx, subID, keepID)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.With(ctx, uc.log).Info().Int("records", n).Str("subscription_id", subID).Msg("superseded pending retries")
	}
	return nil
}

// acquire takes the distributed lock for key; without a locker it is a no-op.
func (uc *billingUC) acquire(ctx context.Context, key string) (func(), error) {
	if uc.locker == nil {
		return func() {}, nil
	}
	token, err := uc.locker.TryLock(ctx, key, uc.opts.LockTTL)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		return nil, domain.ErrBillingInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func() {
		// the caller's ctx may already be done; release on a fresh one
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := uc.locker.Unlock(rctx, key, token); err != nil {
			uc.log.Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}, nil
}

func (uc *billingUC) notifyPaymentFailed(ctx context.Context, sub *model.Subscription, rec *model.BillingRecord) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.PaymentFailed(ctx, sub, rec); err != nil {
		uc.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("payment failure notification failed")
	}
}

func (uc *billingUC) notifyCanceled(ctx context.Context, sub *model.Subscription) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.SubscriptionCanceled(ctx, sub); err != nil {
		uc.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("cancellation notification failed")
	}
}

// gatewayError tags errors from the payment round trip with
// domain.ErrGatewayFailure while keeping the provider's message.
type gatewayError struct {
	op  string
	err error
}

func (e *gatewayError) Error() string { return e.op + ": " + e.err.Error() }

func (e *gatewayError) Unwrap() []error { return []error{domain.ErrGatewayFailure, e.err} }

func gatewayMessage(err error) string {
	var ge *gatewayError
	if errors.As(err, &ge) {
		if errors.Is(ge.err, context.DeadlineExceeded) {
			return "payment gateway timed out"
		}
		return ge.err.Error()
	}
	return err.Error()
}
