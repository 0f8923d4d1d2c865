// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TierPlan describes what a subscription tier grants.
type TierPlan struct {
	// MonthlyAllowanceUSD is the allowance granted on each renewal.
	MonthlyAllowanceUSD float64 `yaml:"monthly_allowance_usd"`
}

// TrialPlan describes the defaults applied at account signup.
type TrialPlan struct {
	AllowanceUSD float64 `yaml:"allowance_usd"`
	DurationDays int     `yaml:"duration_days"`
}

// PlanConfig holds the tier table, trial defaults, and daily cap settings.
// Loaded from YAML when a plans file is configured, otherwise DefaultPlans
// applies.
type PlanConfig struct {
	Tiers map[Tier]TierPlan `yaml:"tiers"`
	Trial TrialPlan         `yaml:"trial"`

	// DefaultDailyCapUSD bounds per-UTC-day spend for standard trial and
	// free (cancelled/expired) users.
	DefaultDailyCapUSD float64 `yaml:"default_daily_cap_usd"`

	// PartnerDailyCapsUSD overrides the default cap for partner-program
	// trial users, keyed by partner id.
	PartnerDailyCapsUSD map[string]float64 `yaml:"partner_daily_caps_usd"`
}

// DefaultPlans returns the built-in plan table.
func DefaultPlans() *PlanConfig {
	return &PlanConfig{
		Tiers: map[Tier]TierPlan{
			TierBasic: {MonthlyAllowanceUSD: 5},
			TierPro:   {MonthlyAllowanceUSD: 15},
			TierMax:   {MonthlyAllowanceUSD: 50},
			TierAdmin: {MonthlyAllowanceUSD: 0},
		},
		Trial: TrialPlan{
			AllowanceUSD: 3,
			DurationDays: 14,
		},
		DefaultDailyCapUSD:  1,
		PartnerDailyCapsUSD: map[string]float64{},
	}
}

// LoadPlanConfig reads a YAML plans file over the built-in defaults. Fields
// absent from the file keep their default values.
func LoadPlanConfig(path string) (*PlanConfig, error) {
	cfg := DefaultPlans()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	if cfg.DefaultDailyCapUSD <= 0 {
		return nil, fmt.Errorf("plans file: default_daily_cap_usd must be positive")
	}
	return cfg, nil
}

// AllowanceFor returns the monthly allowance for a tier, zero for unknown
// tiers.
func (c *PlanConfig) AllowanceFor(tier Tier) float64 {
	return c.Tiers[tier].MonthlyAllowanceUSD
}

// DailyCapFor resolves the daily spend cap for a user. The second return is
// true when the user is uncapped: admins bypass the limiter entirely and
// active paid subscriptions are bounded by balance alone.
func (c *PlanConfig) DailyCapFor(user *UserBalance) (capUSD float64, unlimited bool) {
	if user.Tier == TierAdmin {
		return 0, true
	}
	if user.SubscriptionStatus == StatusActive {
		return 0, true
	}
	if user.PartnerID != "" {
		if cap, ok := c.PartnerDailyCapsUSD[user.PartnerID]; ok {
			return cap, false
		}
	}
	return c.DefaultDailyCapUSD, false
}
