// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryConfig configures the resilience wrapper around store-touching calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier between attempts.
	BackoffFactor float64

	// Jitter adds randomness to avoid thundering herd (0.0-1.0).
	Jitter float64
}

// DefaultRetryConfig returns the standard retry budget for store calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}
}

// transientMarkers are substrings that flag an error message as a
// network/timeout class failure worth retrying.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"i/o timeout",
	"network",
	"temporarily unavailable",
	"bad connection",
	"eof",
}

// IsTransient classifies an error as retryable infrastructure flakiness.
// Business outcomes (insufficient credits, CAS conflicts, cap rejections,
// expired trials, unknown users) are never transient: retrying a legitimate
// business-rule failure would be incorrect.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsBusinessError(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry executes a store-touching call with exponential backoff on
// transient failures. Non-transient errors propagate immediately. When the
// attempt budget is exhausted the last error is surfaced wrapped in
// *TransientStoreError.
//
// CAS conflicts are deliberately outside this wrapper's responsibility: the
// whole operation must be re-read and reattempted at the call-site.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		storeRetriesTotal.WithLabelValues(op).Inc()

		if attempt >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoffFor(cfg, attempt)):
		}
	}

	return zero, &TransientStoreError{Op: op, Attempts: cfg.MaxAttempts, Err: lastErr}
}

// backoffFor computes the wait before the retry that follows attempt. The
// MaxBackoff clamp is applied after jitter, so the cap holds regardless of
// the jitter draw.
func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff >= cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
			break
		}
	}
	if cfg.Jitter > 0 {
		delta := float64(backoff) * cfg.Jitter
		backoff = time.Duration(float64(backoff) + (rand.Float64()*2*delta - delta))
	}
	if backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if backoff < 0 {
		backoff = 0
	}
	return backoff
}

// withRetryNoResult adapts WithRetry for calls that only return an error.
func withRetryNoResult(ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) error) error {
	_, err := WithRetry(ctx, cfg, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
