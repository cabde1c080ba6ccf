package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPath_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "BRL", cfg.Currency.Code)
	assert.Equal(t, int32(2), cfg.Currency.Exponent)
	assert.Equal(t, 20, cfg.Generation.LookaheadDays)
	assert.True(t, cfg.Scheduler.Enabled)

	policy, err := cfg.PenaltyPolicy()
	require.NoError(t, err)
	assert.Equal(t, "2", policy.FinePercent.String())
	assert.Equal(t, "1", policy.MonthlyRatePct.String())
	assert.Equal(t, 0, policy.GraceDays)
}

func TestLoad_FileLayersOverDefaults(t *testing.T) {
	// GIVEN: A file that only overrides some keys
	// WHEN: Loading
	// THEN: Overridden keys win, the rest keep their defaults

	path := writeConfig(t, `
listen_addr: ":9090"
currency:
  code: "JPY"
  exponent: 0
penalty:
  fine_percent: "1.5"
  monthly_interest_percent: "0.8"
  grace_days: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "JPY", cfg.BillingCurrency().Code)
	assert.Equal(t, int32(0), cfg.BillingCurrency().Exponent)
	assert.Equal(t, "billing.db", cfg.DBPath)
	assert.Equal(t, 20, cfg.Generation.LookaheadDays)

	policy, err := cfg.PenaltyPolicy()
	require.NoError(t, err)
	assert.Equal(t, "1.5", policy.FinePercent.String())
	assert.Equal(t, 3, policy.GraceDays)
}

func TestLoad_InvalidValues_Rejected(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad fine percent", "penalty:\n  fine_percent: \"two\"\n"},
		{"negative rate", "penalty:\n  monthly_interest_percent: \"-1\"\n"},
		{"negative grace", "penalty:\n  grace_days: -1\n"},
		{"zero lookahead", "generation:\n  lookahead_days: 0\n"},
		{"exponent out of range", "currency:\n  exponent: 12\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile_Error(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
