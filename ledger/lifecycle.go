// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreateUser provisions a balance row at account signup with trial defaults:
// trial status, the configured trial allowance, and an expiry the configured
// number of days out. An empty tier defaults to basic.
func (s *Service) CreateUser(ctx context.Context, userID string, tier Tier, partnerID string) (*UserBalance, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if tier == "" {
		tier = TierBasic
	}
	if !ValidTier(tier) {
		return nil, ErrInvalidTier
	}

	now := s.now().UTC()
	user := &UserBalance{
		UserID:                userID,
		SubscriptionAllowance: round6(s.plans.Trial.AllowanceUSD),
		PurchasedCredits:      0,
		Tier:                  tier,
		SubscriptionStatus:    StatusTrial,
		TrialExpiresAt:        now.AddDate(0, 0, s.plans.Trial.DurationDays).Format(time.RFC3339),
		PartnerID:             partnerID,
		UpdatedAt:             now,
	}

	err := withRetryNoResult(ctx, s.retry, "create_user", func(ctx context.Context) error {
		return s.repo.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(userID, "", "user created with trial defaults", map[string]interface{}{
		"tier":             string(tier),
		"trial_allowance":  user.SubscriptionAllowance,
		"trial_expires_at": user.TrialExpiresAt,
	})
	return user, nil
}

// DeleteUser soft-deletes the account. The transaction history is retained.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	err := withRetryNoResult(ctx, s.retry, "delete_user", func(ctx context.Context) error {
		return s.repo.SoftDeleteUser(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

// ResetSubscriptionAllowance applies a billing-period renewal: the unused
// allowance from the prior period is forfeited (not rolled over) and the
// allowance is overwritten with the new grant. Purchased credits are
// untouched. The user moves to active status.
func (s *Service) ResetSubscriptionAllowance(ctx context.Context, userID string, newAllowance float64, tier Tier) (*Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if !ValidTier(tier) {
		return nil, ErrInvalidTier
	}
	newAllowance = round6(newAllowance)
	if newAllowance < 0 {
		return nil, ErrInvalidAmount
	}

	// Fresh read; a TTL-stale snapshot would misreport the forfeited amount.
	user, err := WithRetry(ctx, s.retry, "reset_get_user", func(ctx context.Context) (*UserBalance, error) {
		return s.repo.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	forfeited := user.SubscriptionAllowance
	before := round6(user.Total())

	err = withRetryNoResult(ctx, s.retry, "reset_allowance", func(ctx context.Context) error {
		return s.repo.SetAllowance(ctx, userID, newAllowance, tier, StatusActive)
	})
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        round6(newAllowance - forfeited),
		Type:          TxAllowanceReset,
		Description:   "subscription renewal",
		BalanceBefore: before,
		BalanceAfter:  round6(newAllowance + user.PurchasedCredits),
		Metadata: Metadata{
			MetaForfeitedAllowance: forfeited,
			MetaNewAllowance:       newAllowance,
		},
		CreatedAt: s.now().UTC(),
	}

	if err := s.recordTransaction(ctx, tx); err != nil {
		billingIntegrityIncidentsTotal.Inc()
		s.log.BillingIncident(userID, "", "allowance reset applied but transaction write failed", err, map[string]interface{}{
			"new_allowance": newAllowance,
		})
		s.cache.Invalidate(userID)
		return nil, err
	}

	s.cache.Invalidate(userID)
	s.log.Info(userID, "", "subscription allowance reset", map[string]interface{}{
		"tier":                string(tier),
		"forfeited_allowance": forfeited,
		"new_allowance":       newAllowance,
	})
	return tx, nil
}

// ForfeitSubscriptionAllowance handles cancellation: the remaining allowance
// is zeroed and forfeited while purchased credits persist indefinitely.
func (s *Service) ForfeitSubscriptionAllowance(ctx context.Context, userID string) (*Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	user, err := WithRetry(ctx, s.retry, "forfeit_get_user", func(ctx context.Context) (*UserBalance, error) {
		return s.repo.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	forfeited := user.SubscriptionAllowance
	before := round6(user.Total())

	err = withRetryNoResult(ctx, s.retry, "forfeit_allowance", func(ctx context.Context) error {
		return s.repo.SetAllowance(ctx, userID, 0, user.Tier, StatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        round6(-forfeited),
		Type:          TxAllowanceForfeit,
		Description:   "subscription cancelled",
		BalanceBefore: before,
		BalanceAfter:  user.PurchasedCredits,
		Metadata: Metadata{
			MetaForfeitedAllowance: forfeited,
			MetaRetainedPurchased:  user.PurchasedCredits,
		},
		CreatedAt: s.now().UTC(),
	}

	if err := s.recordTransaction(ctx, tx); err != nil {
		billingIntegrityIncidentsTotal.Inc()
		s.log.BillingIncident(userID, "", "allowance forfeited but transaction write failed", err, map[string]interface{}{
			"forfeited_allowance": forfeited,
		})
		s.cache.Invalidate(userID)
		return nil, err
	}

	s.cache.Invalidate(userID)
	s.log.Info(userID, "", "subscription allowance forfeited", map[string]interface{}{
		"forfeited_allowance":        forfeited,
		"retained_purchased_credits": user.PurchasedCredits,
	})
	return tx, nil
}

// ValidateTrialExpiration rejects trial users whose trial has elapsed. A
// malformed stored timestamp logs a warning and lets the request through:
// availability is preferred over strictness for this check.
func (s *Service) ValidateTrialExpiration(user *UserBalance) error {
	if user.SubscriptionStatus != StatusTrial {
		return nil
	}
	if user.TrialExpiresAt == "" {
		return nil
	}

	expiresAt, err := time.Parse(time.RFC3339, user.TrialExpiresAt)
	if err != nil {
		s.log.Warn(user.UserID, "", "malformed trial expiration timestamp, allowing request", map[string]interface{}{
			"trial_expires_at": user.TrialExpiresAt,
			"error":            err.Error(),
		})
		return nil
	}

	if s.now().UTC().After(expiresAt) {
		return &TrialExpiredError{UserID: user.UserID, ExpiredAt: expiresAt}
	}
	return nil
}

// ExpireTrials flips trial users past their expiry to expired status.
// Intended for a periodic sweep; malformed timestamps are skipped (the
// per-request fail-open check governs those users). Returns the number of
// users expired.
func (s *Service) ExpireTrials(ctx context.Context, limit int) (int, error) {
	users, err := WithRetry(ctx, s.retry, "list_trial_users", func(ctx context.Context) ([]UserBalance, error) {
		return s.repo.ListTrialUsers(ctx, limit)
	})
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	expired := 0
	for i := range users {
		user := &users[i]
		if user.TrialExpiresAt == "" {
			continue
		}
		expiresAt, err := time.Parse(time.RFC3339, user.TrialExpiresAt)
		if err != nil {
			s.log.Warn(user.UserID, "", "malformed trial expiration timestamp, skipping in sweep", map[string]interface{}{
				"trial_expires_at": user.TrialExpiresAt,
			})
			continue
		}
		if !now.After(expiresAt) {
			continue
		}

		err = withRetryNoResult(ctx, s.retry, "expire_trial", func(ctx context.Context) error {
			return s.repo.SetSubscriptionStatus(ctx, user.UserID, StatusExpired)
		})
		if err != nil {
			s.log.Error(user.UserID, "", "failed to expire trial", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		s.cache.Invalidate(user.UserID)
		expired++
	}

	return expired, nil
}
