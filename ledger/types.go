// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

// Package ledger implements the tiered credit ledger backing metered AI
// usage: per-user spendable balances (a monthly subscription allowance plus
// a never-expiring purchased-credit pool), optimistic-concurrency debits,
// daily spend caps, and an append-only transaction history.
package ledger

import (
	"math"
	"time"
)

// Tier is the subscription level of a user. It determines the monthly
// allowance size and the daily spend cap.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
	TierMax   Tier = "max"
	TierAdmin Tier = "admin"
)

// SubscriptionStatus tracks where a user is in the subscription lifecycle.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// TransactionType classifies a balance-affecting event.
type TransactionType string

const (
	TxAPIUsage         TransactionType = "api_usage"
	TxAdminCredit      TransactionType = "admin_credit"
	TxPurchase         TransactionType = "purchase"
	TxRefund           TransactionType = "refund"
	TxAllowanceReset   TransactionType = "allowance_reset"
	TxAllowanceForfeit TransactionType = "allowance_forfeit"
)

// Metadata keys written by the ledger itself. Callers may add their own keys
// (request ids, model names, ...) alongside these.
const (
	MetaFromAllowance      = "from_allowance"
	MetaFromPurchased      = "from_purchased"
	MetaForfeitedAllowance = "forfeited_allowance"
	MetaNewAllowance       = "new_allowance"
	MetaRetainedPurchased  = "retained_purchased_credits"
)

// Metadata is the opaque key-value payload attached to a transaction.
type Metadata map[string]interface{}

// UserBalance is the durable balance record for one user. Both balance
// fields are always >= 0; their sum is the spendable total.
type UserBalance struct {
	UserID                string             `json:"user_id"`
	SubscriptionAllowance float64            `json:"subscription_allowance"`
	PurchasedCredits      float64            `json:"purchased_credits"`
	Tier                  Tier               `json:"tier"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`

	// TrialExpiresAt is an RFC 3339 timestamp, empty when unset. It is kept
	// as text end to end so that a malformed stored value is representable
	// and handled (fail-open) rather than crashing the scan.
	TrialExpiresAt string `json:"trial_expires_at,omitempty"`

	// PartnerID marks partner-program trial users, who get a partner-specific
	// daily cap instead of the standard trial cap.
	PartnerID string `json:"partner_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Total returns the spendable total across both pools.
func (u *UserBalance) Total() float64 {
	return u.SubscriptionAllowance + u.PurchasedCredits
}

// Clone returns a deep copy. Cached snapshots are cloned on both store and
// read so callers can never mutate a shared entry.
func (u *UserBalance) Clone() *UserBalance {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Transaction is one immutable entry in the append-only ledger. Amount is
// signed: negative for debits, positive for credits. BalanceBefore and
// BalanceAfter record the spendable total around the event.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        float64         `json:"amount"`
	Type          TransactionType `json:"transaction_type"`
	Description   string          `json:"description,omitempty"`
	BalanceBefore float64         `json:"balance_before"`
	BalanceAfter  float64         `json:"balance_after"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReconciliationReport compares the transaction ledger against the live
// balance for one user. NetLedgerDelta is the sum of (balance_before -
// balance_after) over all transactions, i.e. the total balance decrease the
// ledger accounts for.
type ReconciliationReport struct {
	UserID         string    `json:"user_id"`
	CurrentTotal   float64   `json:"current_total"`
	NetLedgerDelta float64   `json:"net_ledger_delta"`
	ImpliedInitial float64   `json:"implied_initial"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// ValidTier reports whether t is a known tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierBasic, TierPro, TierMax, TierAdmin:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known subscription status.
func ValidStatus(s SubscriptionStatus) bool {
	switch s {
	case StatusTrial, StatusActive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ValidCreditType reports whether t is a credit-grant transaction type
// accepted by AddCredits.
func ValidCreditType(t TransactionType) bool {
	switch t {
	case TxAdminCredit, TxPurchase, TxRefund:
		return true
	}
	return false
}

// amountEpsilon is the smallest billable amount. Deducts below it are a
// documented no-op, and balance comparisons tolerate it to absorb float
// noise from upstream price math.
const amountEpsilon = 1e-6

// round6 normalizes dollar amounts to micro-dollar precision, matching the
// NUMERIC(12,6) columns so CAS equality comparisons round-trip exactly.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
