// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "testing"

func TestRound6(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{1.2345678, 1.234568},
		{1.2345674, 1.234567},
		{0.0000004, 0},
		{0.0000005, 0.000001},
		{-1.2345678, -1.234568},
		{3, 3},
	}

	for _, tt := range tests {
		if got := round6(tt.in); got != tt.want {
			t.Errorf("round6(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUserBalanceTotal(t *testing.T) {
	user := UserBalance{SubscriptionAllowance: 3.5, PurchasedCredits: 10.25}
	if got := user.Total(); got != 13.75 {
		t.Errorf("Total = %v, want 13.75", got)
	}
}

func TestUserBalanceClone(t *testing.T) {
	original := &UserBalance{UserID: "u1", SubscriptionAllowance: 5, PartnerID: "acme"}
	clone := original.Clone()

	clone.SubscriptionAllowance = 99
	if original.SubscriptionAllowance != 5 {
		t.Error("Clone aliases the original")
	}
	if clone.UserID != "u1" || clone.PartnerID != "acme" {
		t.Errorf("Clone dropped fields: %+v", clone)
	}
}

func TestValidTier(t *testing.T) {
	for _, tier := range []Tier{TierBasic, TierPro, TierMax, TierAdmin} {
		if !ValidTier(tier) {
			t.Errorf("ValidTier(%s) = false", tier)
		}
	}
	if ValidTier(Tier("platinum")) || ValidTier(Tier("")) {
		t.Error("unknown tier accepted")
	}
}

func TestValidCreditType(t *testing.T) {
	for _, txType := range []TransactionType{TxAdminCredit, TxPurchase, TxRefund} {
		if !ValidCreditType(txType) {
			t.Errorf("ValidCreditType(%s) = false", txType)
		}
	}
	for _, txType := range []TransactionType{TxAPIUsage, TxAllowanceReset, TxAllowanceForfeit, ""} {
		if ValidCreditType(txType) {
			t.Errorf("ValidCreditType(%s) = true, want false", txType)
		}
	}
}
