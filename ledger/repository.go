// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"time"
)

// Repository is the durable store behind the ledger: the users balance table,
// the append-only transactions table, and the derived daily-usage queries.
// The only mutual exclusion in the system lives in UpdateBalanceCAS, which
// must be backed by a store-native conditional update.
type Repository interface {
	// CreateUser inserts a new balance row. Returns ErrUserExists when the
	// user id is already taken.
	CreateUser(ctx context.Context, user *UserBalance) error

	// GetUser loads the balance row for a user, excluding soft-deleted
	// accounts. Returns *UserNotFoundError when absent.
	GetUser(ctx context.Context, userID string) (*UserBalance, error)

	// UpdateBalanceCAS writes new balance values only if the stored values
	// still equal the expected snapshot. Returns *ConcurrentModificationError
	// when the snapshot is stale and *UserNotFoundError when the row is gone.
	UpdateBalanceCAS(ctx context.Context, userID string, expectedAllowance, expectedPurchased, newAllowance, newPurchased float64) error

	// AddPurchasedCredits atomically increments the purchased pool and
	// returns the resulting balance. Credit grants use the store's own
	// addition instead of a CAS so webhook-driven top-ups never lose races
	// with debits.
	AddPurchasedCredits(ctx context.Context, userID string, amount float64) (*UserBalance, error)

	// SetAllowance overwrites the subscription allowance, tier, and status.
	// Used by renewal resets and cancellation forfeitures.
	SetAllowance(ctx context.Context, userID string, newAllowance float64, tier Tier, status SubscriptionStatus) error

	// SetSubscriptionStatus updates only the lifecycle status.
	SetSubscriptionStatus(ctx context.Context, userID string, status SubscriptionStatus) error

	// SoftDeleteUser marks the account removed; subsequent reads miss it.
	SoftDeleteUser(ctx context.Context, userID string) error

	// InsertTransaction appends one immutable ledger entry. There is no
	// update or delete counterpart by design.
	InsertTransaction(ctx context.Context, tx *Transaction) error

	// ListTransactions pages a user's ledger, newest first, returning the
	// page and the total count.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, int, error)

	// SumDebitsSince totals api_usage debits (as a positive number) recorded
	// at or after since. This is the authoritative daily-usage source.
	SumDebitsSince(ctx context.Context, userID string, since time.Time) (float64, error)

	// SumBalanceDeltas totals (balance_before - balance_after) over the
	// user's entire ledger, for reconciliation.
	SumBalanceDeltas(ctx context.Context, userID string) (float64, error)

	// ListTrialUsers returns up to limit users still in trial status, for
	// the expiration sweep. Timestamp parsing happens in Go so malformed
	// values are skipped rather than breaking the query.
	ListTrialUsers(ctx context.Context, limit int) ([]UserBalance, error)

	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}
