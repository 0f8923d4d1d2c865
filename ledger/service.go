// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ledgergate/platform/shared/logger"
)

// Service is the tiered credit ledger. It owns every balance mutation:
// debits via optimistic concurrency, credit grants, renewal resets, and
// cancellation forfeitures. Request-handling workers share one Service;
// there is no in-process lock around a user's balance. Correctness rests
// entirely on the store's conditional-update semantics.
type Service struct {
	repo    Repository
	cache   BalanceCache
	limiter *DailyLimiter
	usage   DailyUsageSource
	plans   *PlanConfig
	retry   RetryConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewService creates a ledger service with the default cache and retry
// budget.
func NewService(repo Repository, usage DailyUsageSource, plans *PlanConfig) *Service {
	return NewServiceWithOptions(repo, usage, plans, nil, RetryConfig{})
}

// NewServiceWithOptions creates a service with a custom cache and retry
// configuration. A nil cache gets the default in-process TTL cache; a zero
// retry config gets DefaultRetryConfig.
func NewServiceWithOptions(repo Repository, usage DailyUsageSource, plans *PlanConfig, cache BalanceCache, retry RetryConfig) *Service {
	if plans == nil {
		plans = DefaultPlans()
	}
	if cache == nil {
		cache = NewMemoryBalanceCache(DefaultCacheTTL)
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	if usage == nil {
		usage = NewStoreUsageSource(repo)
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		limiter: NewDailyLimiter(usage, plans, retry),
		usage:   usage,
		plans:   plans,
		retry:   retry,
		log:     logger.New("credit-ledger"),
		now:     time.Now,
	}
}

// getUser reads a balance through the cache. Hits return a snapshot that
// may be up to TTL stale for readers other than the last mutator; misses
// load from the store and populate the cache. A not-found result is never
// cached.
func (s *Service) getUser(ctx context.Context, userID string) (*UserBalance, error) {
	if user, ok := s.cache.Get(userID); ok {
		cacheRequestsTotal.WithLabelValues("hit").Inc()
		return user, nil
	}
	cacheRequestsTotal.WithLabelValues("miss").Inc()

	user, err := WithRetry(ctx, s.retry, "get_user", func(ctx context.Context) (*UserBalance, error) {
		return s.repo.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(userID, user)
	return user, nil
}

// GetBalance returns the current balance snapshot for a user.
func (s *Service) GetBalance(ctx context.Context, userID string) (*UserBalance, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.getUser(ctx, userID)
}

// Deduct charges a user for metered usage. It reads one balance snapshot,
// verifies the trial, the daily cap, and the spendable total, splits the
// debit across allowance and purchased credits, and commits it with a
// conditional write that only succeeds if the snapshot is still current.
//
// A lost race surfaces as *ConcurrentModificationError. Deduct never
// silently retries the CAS; the caller re-invokes the whole call, which
// bounds worst-case latency. Amounts below the billable epsilon return
// (nil, nil) without writing anything; callers must not assume a
// transaction exists for sub-epsilon amounts.
//
// Deduct must complete before the chargeable resource is delivered. If the
// transaction write fails after the balance is already debited, the failure
// is logged as a billing-integrity incident and returned.
func (s *Service) Deduct(ctx context.Context, userID string, amount float64, description string, metadata Metadata) (*Transaction, error) {
	start := s.now()
	tx, err := s.deduct(ctx, userID, amount, description, metadata)
	deductDuration.Observe(s.now().Sub(start).Seconds())
	return tx, err
}

func (s *Service) deduct(ctx context.Context, userID string, amount float64, description string, metadata Metadata) (*Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount < amountEpsilon {
		deductionsTotal.WithLabelValues(resultNoop).Inc()
		s.log.Debug(userID, "", "sub-epsilon deduct treated as no-op", map[string]interface{}{
			"amount": amount,
		})
		return nil, nil
	}
	amount = round6(amount)

	user, err := s.getUser(ctx, userID)
	if err != nil {
		deductionsTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}

	if err := s.ValidateTrialExpiration(user); err != nil {
		deductionsTotal.WithLabelValues(resultTrialExpired).Inc()
		return nil, err
	}

	if err := s.limiter.Enforce(ctx, user, amount); err != nil {
		var capErr *DailyLimitExceededError
		if errors.As(err, &capErr) {
			dailyLimitRejectionsTotal.Inc()
			deductionsTotal.WithLabelValues(resultDailyLimit).Inc()
		} else {
			deductionsTotal.WithLabelValues(resultError).Inc()
		}
		return nil, err
	}

	total := round6(user.Total())
	if amount > total+amountEpsilon {
		deductionsTotal.WithLabelValues(resultInsufficient).Inc()
		return nil, &InsufficientCreditsError{Required: amount, Available: total}
	}

	fromAllowance, fromPurchased := SplitDebit(user.SubscriptionAllowance, user.PurchasedCredits, amount)
	newAllowance := round6(user.SubscriptionAllowance - fromAllowance)
	newPurchased := round6(user.PurchasedCredits - fromPurchased)
	if newAllowance < 0 {
		newAllowance = 0
	}
	if newPurchased < 0 {
		newPurchased = 0
	}

	err = withRetryNoResult(ctx, s.retry, "update_balance", func(ctx context.Context) error {
		return s.repo.UpdateBalanceCAS(ctx, userID,
			user.SubscriptionAllowance, user.PurchasedCredits,
			newAllowance, newPurchased)
	})
	if err != nil {
		var conflict *ConcurrentModificationError
		if errors.As(err, &conflict) {
			// Drop the stale snapshot so the caller's re-read is fresh.
			s.cache.Invalidate(userID)
			casConflictsTotal.Inc()
			deductionsTotal.WithLabelValues(resultConflict).Inc()
			return nil, err
		}
		deductionsTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}

	meta := Metadata{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta[MetaFromAllowance] = fromAllowance
	meta[MetaFromPurchased] = fromPurchased

	tx := &Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        -amount,
		Type:          TxAPIUsage,
		Description:   description,
		BalanceBefore: total,
		BalanceAfter:  round6(newAllowance + newPurchased),
		Metadata:      meta,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.recordTransaction(ctx, tx); err != nil {
		// The balance is already debited; the resource has not shipped yet,
		// but the cost trail is incomplete.
		billingIntegrityIncidentsTotal.Inc()
		s.log.BillingIncident(userID, "", "balance debited but transaction write failed", err, map[string]interface{}{
			"amount":         amount,
			"balance_before": tx.BalanceBefore,
			"balance_after":  tx.BalanceAfter,
		})
		s.cache.Invalidate(userID)
		deductionsTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}

	if err := s.usage.AddDailySpend(ctx, userID, s.now().UTC(), amount); err != nil {
		// Recoverable from the ledger; never fails the debit.
		s.log.Warn(userID, "", "daily usage tracking failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.cache.Invalidate(userID)
	deductionsTotal.WithLabelValues(resultOK).Inc()
	deductedUSDTotal.Add(amount)

	return tx, nil
}

// AddCredits grants purchased credits (top-ups, admin grants, refunds). The
// increment is atomic in the store, so credit grants never lose races with
// concurrent debits.
func (s *Service) AddCredits(ctx context.Context, userID string, amount float64, txType TransactionType, description string, metadata Metadata) (*Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !ValidCreditType(txType) {
		return nil, ErrInvalidCreditType
	}
	amount = round6(amount)

	user, err := WithRetry(ctx, s.retry, "add_credits", func(ctx context.Context) (*UserBalance, error) {
		return s.repo.AddPurchasedCredits(ctx, userID, amount)
	})
	if err != nil {
		return nil, err
	}

	after := round6(user.Total())
	tx := &Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Type:          txType,
		Description:   description,
		BalanceBefore: round6(after - amount),
		BalanceAfter:  after,
		Metadata:      metadata,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.recordTransaction(ctx, tx); err != nil {
		billingIntegrityIncidentsTotal.Inc()
		s.log.BillingIncident(userID, "", "credits granted but transaction write failed", err, map[string]interface{}{
			"amount": amount,
			"type":   string(txType),
		})
		s.cache.Invalidate(userID)
		return nil, err
	}

	s.cache.Invalidate(userID)
	s.log.Info(userID, "", "credits added", map[string]interface{}{
		"amount": amount,
		"type":   string(txType),
	})

	return tx, nil
}

// EnforceDailyLimit checks the daily cap for a prospective spend without
// debiting. Exposed for rate-limit middleware that wants to reject before
// doing any provider work.
func (s *Service) EnforceDailyLimit(ctx context.Context, userID string, amount float64) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.limiter.Enforce(ctx, user, amount)
}

// ListTransactions pages a user's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, int, error) {
	if userID == "" {
		return nil, 0, ErrInvalidUserID
	}
	type page struct {
		txs   []Transaction
		total int
	}
	p, err := WithRetry(ctx, s.retry, "list_transactions", func(ctx context.Context) (page, error) {
		txs, total, err := s.repo.ListTransactions(ctx, userID, limit, offset)
		return page{txs, total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return p.txs, p.total, nil
}

// Reconcile compares the transaction ledger against the live balance: the
// sum of (balance_before - balance_after) over all transactions must equal
// the total decrease from the user's initial balance. The ledger is the
// reconciliation source of truth.
func (s *Service) Reconcile(ctx context.Context, userID string) (*ReconciliationReport, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	user, err := WithRetry(ctx, s.retry, "reconcile_get_user", func(ctx context.Context) (*UserBalance, error) {
		return s.repo.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	delta, err := WithRetry(ctx, s.retry, "reconcile_sum", func(ctx context.Context) (float64, error) {
		return s.repo.SumBalanceDeltas(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	total := round6(user.Total())
	return &ReconciliationReport{
		UserID:         userID,
		CurrentTotal:   total,
		NetLedgerDelta: round6(delta),
		ImpliedInitial: round6(total + delta),
		GeneratedAt:    s.now().UTC(),
	}, nil
}

// IsHealthy reports store connectivity.
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}

func (s *Service) recordTransaction(ctx context.Context, tx *Transaction) error {
	return withRetryNoResult(ctx, s.retry, "insert_transaction", func(ctx context.Context) error {
		return s.repo.InsertTransaction(ctx, tx)
	})
}
