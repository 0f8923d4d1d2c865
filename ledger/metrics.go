// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	deductionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_deductions_total",
			Help: "Deduction attempts by outcome",
		},
		[]string{"result"},
	)

	deductedUSDTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_deducted_usd_total",
			Help: "Total dollars successfully deducted",
		},
	)

	casConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_cas_conflicts_total",
			Help: "Conditional balance writes lost to a concurrent writer",
		},
	)

	dailyLimitRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_daily_limit_rejections_total",
			Help: "Deductions rejected by the daily usage limiter",
		},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_cache_requests_total",
			Help: "Balance cache lookups by result",
		},
		[]string{"result"},
	)

	storeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_store_retries_total",
			Help: "Transient store errors observed by the resilience wrapper",
		},
		[]string{"op"},
	)

	billingIntegrityIncidentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_billing_integrity_incidents_total",
			Help: "Ledger writes that failed after the balance was already debited",
		},
	)

	deductDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_deduct_duration_seconds",
			Help:    "End-to-end latency of Deduct calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		deductionsTotal,
		deductedUSDTotal,
		casConflictsTotal,
		dailyLimitRejectionsTotal,
		cacheRequestsTotal,
		storeRetriesTotal,
		billingIntegrityIncidentsTotal,
		deductDuration,
	)
}

// Deduction outcome labels.
const (
	resultOK           = "ok"
	resultNoop         = "noop"
	resultInsufficient = "insufficient_credits"
	resultConflict     = "conflict"
	resultDailyLimit   = "daily_limit"
	resultTrialExpired = "trial_expired"
	resultError        = "error"
)
