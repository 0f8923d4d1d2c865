// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

// SplitDebit decides how a debit divides across the two balance pools.
// Subscription allowance is consumed first; whatever remains comes out of
// purchased credits. Pure function, no I/O.
//
// Callers must have verified allowance+purchased >= amount; SplitDebit does
// not re-check.
func SplitDebit(allowance, purchased, amount float64) (fromAllowance, fromPurchased float64) {
	fromAllowance = amount
	if allowance < amount {
		fromAllowance = allowance
	}
	fromPurchased = round6(amount - fromAllowance)
	return round6(fromAllowance), fromPurchased
}
