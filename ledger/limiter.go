// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"time"

	"ledgergate/platform/shared/logger"
)

// DailyUsageSource tracks cumulative spend per (user, UTC calendar day).
// The day key rolls over implicitly at UTC midnight; there is no explicit
// reset. The tracker is not authoritative: the transaction ledger always can
// reproduce it by summing same-day debits.
type DailyUsageSource interface {
	// DailySpend returns the amount spent so far in the UTC day containing
	// now.
	DailySpend(ctx context.Context, userID string, now time.Time) (float64, error)

	// AddDailySpend records a successful debit against the day's counter.
	AddDailySpend(ctx context.Context, userID string, now time.Time, amount float64) error
}

// DailyLimiter caps spend per UTC day regardless of total balance. It is a
// secondary, independent gate in front of the deduction engine.
type DailyLimiter struct {
	usage DailyUsageSource
	plans *PlanConfig
	retry RetryConfig
	log   *logger.Logger
	now   func() time.Time
}

// NewDailyLimiter creates a limiter over the given usage source and plan
// table. The usage read is a store-touching call, so it goes through the
// retry wrapper like every other one.
func NewDailyLimiter(usage DailyUsageSource, plans *PlanConfig, retry RetryConfig) *DailyLimiter {
	if plans == nil {
		plans = DefaultPlans()
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	return &DailyLimiter{
		usage: usage,
		plans: plans,
		retry: retry,
		log:   logger.New("daily-limiter"),
		now:   time.Now,
	}
}

// Enforce returns *DailyLimitExceededError when today's cumulative spend
// plus amount would exceed the user's cap. Admin-tier users bypass entirely,
// without reading usage state; active paid subscriptions are likewise
// uncapped.
//
// This check runs before the deduction engine's conditional write and is not
// atomic with it, so concurrent requests can marginally exceed the cap. That
// is accepted behavior, not a defect.
func (l *DailyLimiter) Enforce(ctx context.Context, user *UserBalance, amount float64) error {
	cap, unlimited := l.plans.DailyCapFor(user)
	if unlimited {
		return nil
	}

	spent, err := WithRetry(ctx, l.retry, "daily_spend", func(ctx context.Context) (float64, error) {
		return l.usage.DailySpend(ctx, user.UserID, l.now().UTC())
	})
	if err != nil {
		return err
	}

	if spent+amount > cap+amountEpsilon {
		return &DailyLimitExceededError{CapUSD: cap, AttemptedUSD: amount}
	}
	return nil
}

// dayStart returns UTC midnight of the day containing t.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dayKey formats the UTC calendar-day key used by usage trackers.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
