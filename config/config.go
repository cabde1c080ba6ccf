/*
Package config loads engine configuration from a YAML file with defaults.

PURPOSE:
  One place for everything operators tune: listen address, database path,
  tenant currency precision, penalty terms, generation look-ahead, and the
  scheduler's cron expression. Command-line flags in cmd/server override the
  file for the common dev knobs (port, db path).

EXAMPLE (config.yaml):
  listen_addr: ":8080"
  db_path: "billing.db"
  currency:
    code: "BRL"
    exponent: 2
  penalty:
    fine_percent: "2"
    monthly_interest_percent: "1"
    grace_days: 0
  generation:
    lookahead_days: 20
  scheduler:
    cron: "0 6 * * *"
    enabled: true
*/
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/billing-engine/billing"
)

type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	DBPath     string           `yaml:"db_path"`
	Currency   CurrencyConfig   `yaml:"currency"`
	Penalty    PenaltyConfig    `yaml:"penalty"`
	Generation GenerationConfig `yaml:"generation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

type CurrencyConfig struct {
	Code     string `yaml:"code"`
	Exponent int32  `yaml:"exponent"`
}

// PenaltyConfig carries decimal strings so rates never pass through float64.
type PenaltyConfig struct {
	FinePercent            string `yaml:"fine_percent"`
	MonthlyInterestPercent string `yaml:"monthly_interest_percent"`
	GraceDays              int    `yaml:"grace_days"`
}

type GenerationConfig struct {
	LookaheadDays int `yaml:"lookahead_days"`
}

type SchedulerConfig struct {
	Cron    string `yaml:"cron"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DBPath:     "billing.db",
		Currency:   CurrencyConfig{Code: "BRL", Exponent: 2},
		Penalty: PenaltyConfig{
			FinePercent:            "2",
			MonthlyInterestPercent: "1",
			GraceDays:              0,
		},
		Generation: GenerationConfig{LookaheadDays: billing.DefaultLookaheadDays},
		Scheduler:  SchedulerConfig{Cron: "0 6 * * *", Enabled: true},
	}
}

// Load reads the YAML file at path, layered over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Currency.Code == "" {
		return fmt.Errorf("currency.code is required")
	}
	if c.Currency.Exponent < 0 || c.Currency.Exponent > 8 {
		return fmt.Errorf("currency.exponent %d out of range", c.Currency.Exponent)
	}
	if c.Generation.LookaheadDays < 1 {
		return fmt.Errorf("generation.lookahead_days must be >= 1")
	}
	if c.Penalty.GraceDays < 0 {
		return fmt.Errorf("penalty.grace_days must be >= 0")
	}
	if _, err := c.PenaltyPolicy(); err != nil {
		return err
	}
	return nil
}

// BillingCurrency returns the tenant currency as the engine type.
func (c Config) BillingCurrency() billing.Currency {
	return billing.Currency{Code: c.Currency.Code, Exponent: c.Currency.Exponent}
}

// PenaltyPolicy parses the penalty terms into the engine type.
func (c Config) PenaltyPolicy() (billing.PenaltyPolicy, error) {
	fine, err := decimal.NewFromString(c.Penalty.FinePercent)
	if err != nil {
		return billing.PenaltyPolicy{}, fmt.Errorf("invalid penalty.fine_percent %q: %w", c.Penalty.FinePercent, err)
	}
	rate, err := decimal.NewFromString(c.Penalty.MonthlyInterestPercent)
	if err != nil {
		return billing.PenaltyPolicy{}, fmt.Errorf("invalid penalty.monthly_interest_percent %q: %w", c.Penalty.MonthlyInterestPercent, err)
	}
	if fine.IsNegative() || rate.IsNegative() {
		return billing.PenaltyPolicy{}, fmt.Errorf("penalty rates must not be negative")
	}
	return billing.PenaltyPolicy{
		FinePercent:    fine,
		MonthlyRatePct: rate,
		GraceDays:      c.Penalty.GraceDays,
	}, nil
}
