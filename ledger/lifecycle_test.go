// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResetSubscriptionAllowance(t *testing.T) {
	repo := newMockRepository()
	repo.addUser(&UserBalance{
		UserID:                "u1",
		SubscriptionAllowance: 5,
		PurchasedCredits:      10,
		Tier:                  TierBasic,
		SubscriptionStatus:    StatusActive,
	})
	svc := newTestService(repo)

	tx, err := svc.ResetSubscriptionAllowance(context.Background(), "u1", 15, TierPro)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if tx.Type != TxAllowanceReset {
		t.Errorf("tx type = %s, want allowance_reset", tx.Type)
	}
	if tx.Amount != 10 {
		t.Errorf("tx amount = %v, want 10 (15 granted - 5 forfeited)", tx.Amount)
	}
	if tx.Metadata[MetaForfeitedAllowance] != 5.0 {
		t.Errorf("forfeited_allowance = %v, want 5", tx.Metadata[MetaForfeitedAllowance])
	}
	if tx.Metadata[MetaNewAllowance] != 15.0 {
		t.Errorf("new_allowance = %v, want 15", tx.Metadata[MetaNewAllowance])
	}
	if tx.BalanceBefore != 15 || tx.BalanceAfter != 25 {
		t.Errorf("balances = (%v, %v), want (15, 25)", tx.BalanceBefore, tx.BalanceAfter)
	}

	user, err := svc.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.SubscriptionAllowance != 15 {
		t.Errorf("allowance = %v, want 15 (no rollover)", user.SubscriptionAllowance)
	}
	if user.PurchasedCredits != 10 {
		t.Errorf("purchased = %v, want 10 (untouched by renewal)", user.PurchasedCredits)
	}
	if user.Tier != TierPro {
		t.Errorf("tier = %s, want pro", user.Tier)
	}
	if user.SubscriptionStatus != StatusActive {
		t.Errorf("status = %s, want active", user.SubscriptionStatus)
	}
}

func TestResetValidation(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.ResetSubscriptionAllowance(ctx, "", 10, TierPro); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("empty user: got %v", err)
	}
	if _, err := svc.ResetSubscriptionAllowance(ctx, "u1", 10, Tier("platinum")); !errors.Is(err, ErrInvalidTier) {
		t.Errorf("bad tier: got %v", err)
	}
	if _, err := svc.ResetSubscriptionAllowance(ctx, "u1", -1, TierPro); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative allowance: got %v", err)
	}
}

func TestForfeitSubscriptionAllowance(t *testing.T) {
	repo := newMockRepository()
	repo.addUser(&UserBalance{
		UserID:                "u1",
		SubscriptionAllowance: 8,
		PurchasedCredits:      20,
		Tier:                  TierMax,
		SubscriptionStatus:    StatusActive,
	})
	svc := newTestService(repo)

	tx, err := svc.ForfeitSubscriptionAllowance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("forfeit failed: %v", err)
	}

	if tx.Type != TxAllowanceForfeit {
		t.Errorf("tx type = %s, want allowance_forfeit", tx.Type)
	}
	if tx.Amount != -8 {
		t.Errorf("tx amount = %v, want -8", tx.Amount)
	}
	if tx.Metadata[MetaForfeitedAllowance] != 8.0 {
		t.Errorf("forfeited_allowance = %v, want 8", tx.Metadata[MetaForfeitedAllowance])
	}
	if tx.Metadata[MetaRetainedPurchased] != 20.0 {
		t.Errorf("retained_purchased_credits = %v, want 20", tx.Metadata[MetaRetainedPurchased])
	}
	if tx.BalanceBefore != 28 || tx.BalanceAfter != 20 {
		t.Errorf("balances = (%v, %v), want (28, 20)", tx.BalanceBefore, tx.BalanceAfter)
	}

	user, err := svc.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.SubscriptionAllowance != 0 {
		t.Errorf("allowance = %v, want 0", user.SubscriptionAllowance)
	}
	if user.PurchasedCredits != 20 {
		t.Errorf("purchased = %v, want 20 (survives cancellation)", user.PurchasedCredits)
	}
	if user.SubscriptionStatus != StatusCancelled {
		t.Errorf("status = %s, want cancelled", user.SubscriptionStatus)
	}
}

func TestValidateTrialExpiration(t *testing.T) {
	svc := newTestService(newMockRepository())

	future := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	past := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name        string
		status      SubscriptionStatus
		expiresAt   string
		wantExpired bool
	}{
		{"active user ignores expiry", StatusActive, past, false},
		{"cancelled user ignores expiry", StatusCancelled, past, false},
		{"trial with future expiry", StatusTrial, future, false},
		{"trial with past expiry", StatusTrial, past, true},
		{"trial with no expiry", StatusTrial, "", false},
		{"trial with malformed expiry allows", StatusTrial, "garbage", false},
		{"trial with partial timestamp allows", StatusTrial, "2026-01-15", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &UserBalance{
				UserID:             "u1",
				SubscriptionStatus: tt.status,
				TrialExpiresAt:     tt.expiresAt,
			}
			err := svc.ValidateTrialExpiration(user)

			var expired *TrialExpiredError
			if tt.wantExpired {
				if !errors.As(err, &expired) {
					t.Errorf("got %v, want TrialExpiredError", err)
				}
			} else if err != nil {
				t.Errorf("got %v, want nil", err)
			}
		})
	}
}

func TestCreateUserTrialDefaults(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	user, err := svc.CreateUser(context.Background(), "u1", "", "acme")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	plans := DefaultPlans()
	if user.Tier != TierBasic {
		t.Errorf("tier = %s, want basic default", user.Tier)
	}
	if user.SubscriptionStatus != StatusTrial {
		t.Errorf("status = %s, want trial", user.SubscriptionStatus)
	}
	if user.SubscriptionAllowance != plans.Trial.AllowanceUSD {
		t.Errorf("allowance = %v, want %v", user.SubscriptionAllowance, plans.Trial.AllowanceUSD)
	}
	if user.PartnerID != "acme" {
		t.Errorf("partner = %q, want acme", user.PartnerID)
	}

	expiresAt, err := time.Parse(time.RFC3339, user.TrialExpiresAt)
	if err != nil {
		t.Fatalf("trial expiry not RFC3339: %q", user.TrialExpiresAt)
	}
	wantExpiry := time.Now().UTC().AddDate(0, 0, plans.Trial.DurationDays)
	if expiresAt.Before(wantExpiry.Add(-time.Minute)) || expiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("trial expiry = %s, want ~%s", expiresAt, wantExpiry)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "u1", TierPro, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateUser(ctx, "u1", TierPro, ""); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate create: got %v, want ErrUserExists", err)
	}
}

func TestDeleteUser(t *testing.T) {
	repo := newMockRepository()
	repo.addUser(activeUser("u1", 5, 5))
	svc := newTestService(repo)
	ctx := context.Background()

	// Warm the cache so the delete has something to invalidate.
	if _, err := svc.GetBalance(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	_, err := svc.GetBalance(ctx, "u1")
	var notFound *UserNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("deleted user lookup: got %v, want UserNotFoundError", err)
	}
}

func TestExpireTrials(t *testing.T) {
	repo := newMockRepository()
	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	repo.addUser(&UserBalance{UserID: "elapsed", SubscriptionStatus: StatusTrial, TrialExpiresAt: past})
	repo.addUser(&UserBalance{UserID: "elapsed2", SubscriptionStatus: StatusTrial, TrialExpiresAt: past})
	repo.addUser(&UserBalance{UserID: "running", SubscriptionStatus: StatusTrial, TrialExpiresAt: future})
	repo.addUser(&UserBalance{UserID: "malformed", SubscriptionStatus: StatusTrial, TrialExpiresAt: "junk"})
	repo.addUser(&UserBalance{UserID: "paid", SubscriptionStatus: StatusActive})

	svc := newTestService(repo)
	expired, err := svc.ExpireTrials(context.Background(), 500)
	if err != nil {
		t.Fatalf("ExpireTrials failed: %v", err)
	}
	if expired != 2 {
		t.Errorf("expired = %d, want 2", expired)
	}

	for _, tc := range []struct {
		id   string
		want SubscriptionStatus
	}{
		{"elapsed", StatusExpired},
		{"elapsed2", StatusExpired},
		{"running", StatusTrial},
		{"malformed", StatusTrial},
		{"paid", StatusActive},
	} {
		user, err := repo.GetUser(context.Background(), tc.id)
		if err != nil {
			t.Fatal(err)
		}
		if user.SubscriptionStatus != tc.want {
			t.Errorf("%s status = %s, want %s", tc.id, user.SubscriptionStatus, tc.want)
		}
	}
}
