// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ledgergate/platform/shared/logger"
)

// RedisUsageTracker implements DailyUsageSource on a day-keyed redis counter
// with a store fallback. The counter is a cheap accelerator; the transaction
// ledger stays the source of truth, so on any redis failure the tracker
// falls back to summing same-day debit transactions instead of failing the
// request.
type RedisUsageTracker struct {
	client *redis.Client
	repo   Repository
	log    *logger.Logger
}

// usageKeyTTL keeps day counters around long enough to survive clock skew
// around the UTC rollover, then lets redis reclaim them.
const usageKeyTTL = 48 * time.Hour

// NewRedisUsageTracker creates a tracker. client may be nil, in which case
// every read goes straight to the store and writes are no-ops (the debit
// transaction already carries the spend).
func NewRedisUsageTracker(client *redis.Client, repo Repository) *RedisUsageTracker {
	return &RedisUsageTracker{
		client: client,
		repo:   repo,
		log:    logger.New("usage-tracker"),
	}
}

func usageKey(userID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s", userID, dayKey(now))
}

// DailySpend returns today's cumulative spend for a user.
func (t *RedisUsageTracker) DailySpend(ctx context.Context, userID string, now time.Time) (float64, error) {
	if t.client != nil {
		spent, err := t.client.Get(ctx, usageKey(userID, now)).Float64()
		if err == nil {
			return spent, nil
		}
		if err == redis.Nil {
			return 0, nil
		}
		t.log.Warn(userID, "", "redis daily-spend read failed, falling back to store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return t.repo.SumDebitsSince(ctx, userID, dayStart(now))
}

// AddDailySpend increments today's counter after a successful debit. Errors
// are logged, not returned: the debit is already committed and recoverable
// from the ledger.
func (t *RedisUsageTracker) AddDailySpend(ctx context.Context, userID string, now time.Time, amount float64) error {
	if t.client == nil {
		return nil
	}

	key := usageKey(userID, now)
	pipe := t.client.Pipeline()
	pipe.IncrByFloat(ctx, key, amount)
	pipe.Expire(ctx, key, usageKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn(userID, "", "redis daily-spend increment failed", map[string]interface{}{
			"error":  err.Error(),
			"amount": amount,
		})
	}
	return nil
}

// StoreUsageSource is the redis-less DailyUsageSource: reads sum same-day
// debit transactions, writes are no-ops.
type StoreUsageSource struct {
	repo Repository
}

// NewStoreUsageSource creates a store-backed usage source.
func NewStoreUsageSource(repo Repository) *StoreUsageSource {
	return &StoreUsageSource{repo: repo}
}

// DailySpend sums today's debit transactions.
func (s *StoreUsageSource) DailySpend(ctx context.Context, userID string, now time.Time) (float64, error) {
	return s.repo.SumDebitsSince(ctx, userID, dayStart(now))
}

// AddDailySpend is a no-op; the debit transaction already carries the spend.
func (s *StoreUsageSource) AddDailySpend(ctx context.Context, userID string, now time.Time, amount float64) error {
	return nil
}
