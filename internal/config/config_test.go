package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAnalytics() AnalyticsConfig {
	return AnalyticsConfig{
		HistoryDays:    365,
		HorizonDays:    30,
		ValidationDays: 30,
		ClusterCount:   3,
		HistorySource:  HistorySourceSynthetic,
		CacheTTL:       "10m",
		RunTimeout:     "2m",
		Markets: []MarketConfig{
			{ID: " Casablanca ", BasePrice: 1e-7},
			{ID: "rabat", Name: "Rabat City", BasePrice: 2e-7},
			{ID: "fes", BasePrice: 1e-7},
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 365, cfg.Analytics.HistoryDays)
	assert.Equal(t, 30, cfg.Analytics.HorizonDays)
	assert.Equal(t, uint64(42), cfg.Analytics.Seed)
	assert.Equal(t, 100, cfg.Analytics.ForestTrees)
	assert.Equal(t, HistorySourceSynthetic, cfg.Analytics.HistorySource)
	assert.Equal(t, 10*time.Minute, cfg.Analytics.CacheTTLDuration())
	assert.Equal(t, 2*time.Minute, cfg.Analytics.RunTimeoutDuration())

	require.Len(t, cfg.Analytics.Markets, 5)
	assert.Equal(t, "casablanca", cfg.Analytics.Markets[0].ID)
	assert.Equal(t, "Casablanca", cfg.Analytics.Markets[0].Name)
	assert.Equal(t, 3.0e-7, cfg.Analytics.Markets[4].BasePrice)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
log_level: debug
analytics:
  seed: 7
  cluster_count: 2
  markets:
    - id: marrakech
      base_price: 0.0000002
    - id: essaouira
      base_price: 0.0000001
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("ANALYTICS_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(7), cfg.Analytics.Seed)
	assert.Equal(t, 8, cfg.Analytics.Workers)
	require.Len(t, cfg.Analytics.Markets, 2)
	assert.Equal(t, "Essaouira", cfg.Analytics.Markets[1].Name)
}

func TestLoad_RequiresSecretOutsideDevelopment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ADMIN_TOKEN_SECRET", "s3cret")
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Security.AdminTokenSecret)
}

func TestAnalyticsConfig_Validate(t *testing.T) {
	t.Run("normalizes markets", func(t *testing.T) {
		a := validAnalytics()
		require.NoError(t, a.Validate())
		assert.Equal(t, "casablanca", a.Markets[0].ID)
		assert.Equal(t, "Casablanca", a.Markets[0].Name)
		assert.Equal(t, "Rabat City", a.Markets[1].Name)
	})

	tests := []struct {
		name   string
		mutate func(a *AnalyticsConfig)
	}{
		{"no markets", func(a *AnalyticsConfig) { a.Markets = nil }},
		{"too many clusters", func(a *AnalyticsConfig) { a.ClusterCount = 4 }},
		{"zero horizon", func(a *AnalyticsConfig) { a.HorizonDays = 0 }},
		{"zero validation", func(a *AnalyticsConfig) { a.ValidationDays = 0 }},
		{"unknown source", func(a *AnalyticsConfig) { a.HistorySource = "csv" }},
		{"bad ttl", func(a *AnalyticsConfig) { a.CacheTTL = "soon" }},
		{"bad timeout", func(a *AnalyticsConfig) { a.RunTimeout = "" }},
		{"blank id", func(a *AnalyticsConfig) { a.Markets[1].ID = "  " }},
		{"duplicate id", func(a *AnalyticsConfig) { a.Markets[2].ID = "RABAT" }},
		{"non-positive price", func(a *AnalyticsConfig) { a.Markets[2].BasePrice = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAnalytics()
			tt.mutate(&a)
			assert.Error(t, a.Validate())
		})
	}
}

func TestLoad_BundledConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(filepath.Join("..", ".."))

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Sentry.Enabled)
	assert.Equal(t, "celebrum-trends", cfg.Security.AdminTokenIssuer)
	require.Len(t, cfg.Analytics.Markets, 5)
	assert.Equal(t, "tanger", cfg.Analytics.Markets[4].ID)
	assert.Equal(t, 3.0e-7, cfg.Analytics.Markets[4].BasePrice)
}
