// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidAmount is returned when a deduct or credit amount is not
	// greater than zero.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidUserID is returned when the user identifier is empty.
	ErrInvalidUserID = errors.New("user id is required")

	// ErrInvalidTier is returned for an unknown subscription tier.
	ErrInvalidTier = errors.New("invalid subscription tier")

	// ErrInvalidCreditType is returned when AddCredits is called with a
	// transaction type that is not a credit grant.
	ErrInvalidCreditType = errors.New("invalid credit transaction type")

	// ErrUserExists is returned when creating a user that already exists.
	ErrUserExists = errors.New("user already exists")
)

// InsufficientCreditsError is returned when a debit exceeds the spendable
// total. No state is changed when it is returned.
type InsufficientCreditsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required $%.6f, available $%.6f", e.Required, e.Available)
}

// ConcurrentModificationError is returned when the conditional balance write
// lost a race with another writer. The ledger never retries this internally;
// callers re-read and reattempt the whole operation.
type ConcurrentModificationError struct {
	UserID string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("balance for user %s was modified concurrently", e.UserID)
}

// DailyLimitExceededError is returned when a debit would push the user past
// their daily spend cap for the current UTC day.
type DailyLimitExceededError struct {
	CapUSD       float64
	AttemptedUSD float64
}

func (e *DailyLimitExceededError) Error() string {
	return fmt.Sprintf("daily usage limit exceeded: cap $%.2f, attempted $%.6f", e.CapUSD, e.AttemptedUSD)
}

// TrialExpiredError is a payment-required class error returned when a trial
// user's trial period has elapsed.
type TrialExpiredError struct {
	UserID    string
	ExpiredAt time.Time
}

func (e *TrialExpiredError) Error() string {
	return fmt.Sprintf("trial for user %s expired at %s", e.UserID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// UserNotFoundError is returned when no balance record exists for the
// identifier (including soft-deleted accounts).
type UserNotFoundError struct {
	UserID string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %s not found", e.UserID)
}

// TransientStoreError wraps a network/timeout class failure that survived
// the resilience wrapper's retry budget. Everything underneath stays
// reachable through Unwrap.
type TransientStoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: store unavailable after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsBusinessError reports whether err is a legitimate business outcome
// (insufficient credits, lost CAS race, cap exceeded, expired trial, unknown
// user) as opposed to infrastructure flakiness. Business errors are never
// retried automatically.
func IsBusinessError(err error) bool {
	var (
		insufficient *InsufficientCreditsError
		conflict     *ConcurrentModificationError
		dailyLimit   *DailyLimitExceededError
		trial        *TrialExpiredError
		notFound     *UserNotFoundError
	)
	switch {
	case errors.As(err, &insufficient),
		errors.As(err, &conflict),
		errors.As(err, &dailyLimit),
		errors.As(err, &trial),
		errors.As(err, &notFound):
		return true
	}
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrInvalidCreditType) ||
		errors.Is(err, ErrUserExists)
}
