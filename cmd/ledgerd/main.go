// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the LedgerGate credit ledger service.
//
// ledgerd owns the billing state for metered AI usage: user balances, the
// append-only transaction ledger, daily spend caps, and the subscription
// lifecycle. Gateway instances call into it for every chargeable request;
// webhook processors call it for top-ups, renewals, and cancellations.
//
// Usage:
//
//	./ledgerd
//
// Environment Variables:
//
//	DATABASE_URL - PostgreSQL connection string (required)
//	REDIS_URL    - Redis URL for daily-usage counters (optional)
//	METRICS_ADDR - Prometheus listen address (default: :9090)
//	PLANS_FILE   - YAML tier/plan configuration (optional)
//	CACHE_TTL    - balance cache TTL (default: 300s)
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgergate/platform/ledger"
	"ledgergate/platform/shared/logger"
)

// trialSweepInterval bounds how long an elapsed trial can keep its trial
// status before the sweep flips it to expired. Per-request validation
// rejects expired trials regardless.
const trialSweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	log := logger.New("ledgerd")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := ledger.Migrate(db); err != nil {
		return err
	}
	log.Info("", "", "database connected, migrations applied", nil)

	repo := ledger.NewPostgresRepository(db)

	var redisClient *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// Daily-usage counters degrade to ledger sums without redis.
			log.Warn("", "", "redis unreachable, daily usage falls back to the store", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			log.Info("", "", "redis connected", nil)
		}
		defer redisClient.Close()
	}

	plans := ledger.DefaultPlans()
	if plansFile := os.Getenv("PLANS_FILE"); plansFile != "" {
		plans, err = ledger.LoadPlanConfig(plansFile)
		if err != nil {
			return err
		}
		log.Info("", "", "plan configuration loaded", map[string]interface{}{"file": plansFile})
	}

	cacheTTL := ledger.DefaultCacheTTL
	if raw := os.Getenv("CACHE_TTL"); raw != "" {
		cacheTTL, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid CACHE_TTL: %w", err)
		}
	}

	usage := ledger.NewRedisUsageTracker(redisClient, repo)
	cache := ledger.NewMemoryBalanceCache(cacheTTL)
	svc := ledger.NewServiceWithOptions(repo, usage, plans, cache, ledger.DefaultRetryConfig())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !svc.IsHealthy(r.Context()) {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("", "", "metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	log.Info("", "", "metrics listener started", map[string]interface{}{"addr": metricsAddr})

	go sweepTrials(ctx, svc, log)

	<-ctx.Done()
	log.Info("", "", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return metricsSrv.Shutdown(shutdownCtx)
}

func sweepTrials(ctx context.Context, svc *ledger.Service, log *logger.Logger) {
	ticker := time.NewTicker(trialSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			expired, err := svc.ExpireTrials(sweepCtx, 500)
			cancel()
			if err != nil {
				log.Error("", "", "trial sweep failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if expired > 0 {
				log.Info("", "", "trial sweep expired users", map[string]interface{}{"count": expired})
			}
		}
	}
}
