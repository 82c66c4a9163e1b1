// internal/config/config.go

// Package config reads the circulation service configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/proall22/library-management-system/internal/circulation"
)

// Config holds the service parameters and circulation policy knobs. Policy
// defaults mirror the library settings: a two-week loan period, a three-day
// pickup window, and a 0.50/day fine.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS" envDefault:"localhost:8082"`
	DatabaseURL          string `env:"DATABASE_URL"`
	MembershipServiceURL string `env:"MEMBERSHIP_SERVICE_URL"`
	OTLPEndpoint         string `env:"OTLP_ENDPOINT"`

	LoanPeriodDays        int           `env:"LOAN_PERIOD_DAYS" envDefault:"14"`
	DueSoonThresholdDays  int           `env:"DUE_SOON_THRESHOLD_DAYS" envDefault:"2"`
	FineDailyRateCents    int64         `env:"FINE_DAILY_RATE_CENTS" envDefault:"50"`
	ReadyWindowDays       int           `env:"READY_WINDOW_DAYS" envDefault:"3"`
	MaxLoansPerMember     int           `env:"MAX_LOANS_PER_MEMBER" envDefault:"5"`
	BlockOverdueBorrowers bool          `env:"BLOCK_OVERDUE_BORROWERS" envDefault:"true"`
	AllowReserveAvailable bool          `env:"ALLOW_RESERVE_AVAILABLE" envDefault:"false"`
	CancelSuspendedRes    bool          `env:"CANCEL_SUSPENDED_RESERVATIONS" envDefault:"false"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"50"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" envDefault:"100"`
}

// Parse reads the configuration from environment variables and validates the
// policy values.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.LoanPeriodDays < 1 {
		return nil, fmt.Errorf("loan period must be at least one day, got %d", cfg.LoanPeriodDays)
	}
	if cfg.ReadyWindowDays < 0 {
		return nil, fmt.Errorf("ready window must not be negative, got %d", cfg.ReadyWindowDays)
	}
	if cfg.FineDailyRateCents < 0 {
		return nil, fmt.Errorf("fine rate must not be negative, got %d", cfg.FineDailyRateCents)
	}
	return cfg, nil
}

// Policy assembles the circulation.Policy from the configured knobs.
func (c *Config) Policy() circulation.Policy {
	return circulation.Policy{
		LoanPeriodDays:              c.LoanPeriodDays,
		DueSoonThresholdDays:        c.DueSoonThresholdDays,
		FineDailyRateCents:          c.FineDailyRateCents,
		ReadyWindowDays:             c.ReadyWindowDays,
		MaxLoansPerMember:           c.MaxLoansPerMember,
		BlockOverdueBorrowers:       c.BlockOverdueBorrowers,
		AllowReserveAvailable:       c.AllowReserveAvailable,
		CancelSuspendedReservations: c.CancelSuspendedRes,
	}
}
