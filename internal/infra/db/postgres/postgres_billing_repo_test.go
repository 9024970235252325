//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/repository"
)

func TestBillingRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewBillingRepo(testPool)
	subs := NewSubscriptionRepo(testPool)
	users := NewPostgresUserRepo(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	cleanup(t)
	u, _ := model.NewUser("", "billing@example.com")
	if err := users.Save(ctx, repository.NoTX, u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	plan, _ := model.NewPlan(model.PlanYearly, 12, "290", "USD", model.RoleSignals)
	sub, _ := model.NewSubscription(u.ID, plan, "", now)
	if err := subs.Create(ctx, repository.NoTX, sub); err != nil {
		t.Fatalf("save subscription: %v", err)
	}

	rec, _ := model.NewBillingRecord(sub, plan, now)
	if err := repo.Create(ctx, repository.NoTX, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	due := now.Add(-time.Minute)
	rec.Status = model.BillingStatusRetrying
	rec.FailureReason = "payment declined"
	rec.NextRetryAt = &due
	if err := repo.Update(ctx, repository.NoTX, rec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	later, _ := model.NewBillingRecord(sub, plan, now)
	future := now.Add(time.Hour)
	later.Status = model.BillingStatusRetrying
	later.NextRetryAt = &future
	_ = repo.Create(ctx, repository.NoTX, later)

	got, err := repo.FindByStatus(ctx, repository.NoTX, model.BillingStatusRetrying, &now, 10)
	if err != nil {
		t.Fatalf("FindByStatus failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != rec.ID || got[0].Amount != 29000 {
		t.Fatalf("expected only the due record, got %+v", got)
	}

	all, _ := repo.FindByStatus(ctx, repository.NoTX, model.BillingStatusRetrying, nil, 10)
	if len(all) != 2 {
		t.Errorf("expected 2 retrying records without a cutoff, got %d", len(all))
	}

	ok, err := repo.TransitionStatus(ctx, repository.NoTX, rec.ID, model.BillingStatusRetrying, model.BillingStatusFailed)
	if err != nil || !ok {
		t.Fatalf("first transition: %v, %v", ok, err)
	}
	ok, err = repo.TransitionStatus(ctx, repository.NoTX, rec.ID, model.BillingStatusRetrying, model.BillingStatusFailed)
	if err != nil || ok {
		t.Errorf("second transition should lose the claim: %v, %v", ok, err)
	}

	found, err := repo.FindByID(ctx, repository.NoTX, rec.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Status != model.BillingStatusFailed || found.FailureReason != "payment declined" {
		t.Errorf("unexpected record %+v", found)
	}
}

func TestBillingRepo_SupersedeAndStale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewBillingRepo(testPool)
	subs := NewSubscriptionRepo(testPool)
	users := NewPostgresUserRepo(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	cleanup(t)
	u, _ := model.NewUser("", "stale@example.com")
	if err := users.Save(ctx, repository.NoTX, u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	plan, _ := model.NewPlan(model.PlanMonthly, 1, "29", "USD", model.RoleSignals)
	sub, _ := model.NewSubscription(u.ID, plan, "", now)
	if err := subs.Create(ctx, repository.NoTX, sub); err != nil {
		t.Fatalf("save subscription: %v", err)
	}

	mk := func(status model.BillingStatus, touched time.Time) *model.BillingRecord {
		rec, _ := model.NewBillingRecord(sub, plan, touched)
		rec.Status = status
		if err := repo.Create(ctx, repository.NoTX, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return rec
	}
	keep := mk(model.BillingStatusRetrying, now)
	old := mk(model.BillingStatusRetrying, now)
	stale := mk(model.BillingStatusPending, now.Add(-time.Hour))
	mk(model.BillingStatusPending, now)

	n, err := repo.SupersedeRetrying(ctx, repository.NoTX, sub.ID, keep.ID)
	if err != nil || n != 1 {
		t.Fatalf("SupersedeRetrying = %d, %v", n, err)
	}
	if got, _ := repo.FindByID(ctx, repository.NoTX, old.ID); got.Status != model.BillingStatusFailed {
		t.Errorf("expected superseded record FAILED, got %s", got.Status)
	}
	if got, _ := repo.FindByID(ctx, repository.NoTX, keep.ID); got.Status != model.BillingStatusRetrying {
		t.Errorf("expected kept record RETRYING, got %s", got.Status)
	}

	pending, err := repo.FindStalePending(ctx, repository.NoTX, now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("FindStalePending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != stale.ID {
		t.Errorf("expected only the stale pending record, got %+v", pending)
	}
}
