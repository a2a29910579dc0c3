package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// History sources accepted by AnalyticsConfig.HistorySource.
const (
	HistorySourceSynthetic = "synthetic"
	HistorySourcePostgres  = "postgres"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Security    SecurityConfig  `mapstructure:"security"`
	Sentry      SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// MarketConfig describes one market and the base price its synthetic
// history is generated around.
type MarketConfig struct {
	ID        string  `mapstructure:"id"`
	Name      string  `mapstructure:"name"`
	BasePrice float64 `mapstructure:"base_price"`
}

type AnalyticsConfig struct {
	HistoryDays     int            `mapstructure:"history_days"`
	HorizonDays     int            `mapstructure:"horizon_days"`
	ValidationDays  int            `mapstructure:"validation_days"`
	SeasonalPeriod  int            `mapstructure:"seasonal_period"`
	ForestTrees     int            `mapstructure:"forest_trees"`
	ForestMaxDepth  int            `mapstructure:"forest_max_depth"`
	Seed            uint64         `mapstructure:"seed"`
	ClusterCount    int            `mapstructure:"cluster_count"`
	ClusterRestarts int            `mapstructure:"cluster_restarts"`
	Workers         int            `mapstructure:"workers"`
	TrendWindow     int            `mapstructure:"trend_window"`
	TrendThreshold  float64        `mapstructure:"trend_threshold"`
	HistorySource   string         `mapstructure:"history_source"`
	CacheTTL        string         `mapstructure:"cache_ttl"`
	RunTimeout      string         `mapstructure:"run_timeout"`
	Markets         []MarketConfig `mapstructure:"markets"`
}

// CacheTTLDuration returns the parsed cache TTL. Call Validate first.
func (a AnalyticsConfig) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(a.CacheTTL)
	return d
}

// RunTimeoutDuration returns the parsed per-run deadline. Call Validate first.
func (a AnalyticsConfig) RunTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(a.RunTimeout)
	return d
}

// Validate checks the analytics settings and normalizes market ids and names.
func (a *AnalyticsConfig) Validate() error {
	if len(a.Markets) == 0 {
		return errors.New("analytics.markets must list at least one market")
	}
	if a.ClusterCount <= 0 || a.ClusterCount > len(a.Markets) {
		return fmt.Errorf("analytics.cluster_count must be between 1 and %d, got %d", len(a.Markets), a.ClusterCount)
	}
	if a.HorizonDays <= 0 {
		return fmt.Errorf("analytics.horizon_days must be positive, got %d", a.HorizonDays)
	}
	if a.ValidationDays <= 0 {
		return fmt.Errorf("analytics.validation_days must be positive, got %d", a.ValidationDays)
	}
	switch a.HistorySource {
	case HistorySourceSynthetic, HistorySourcePostgres:
	default:
		return fmt.Errorf("analytics.history_source must be %q or %q, got %q",
			HistorySourceSynthetic, HistorySourcePostgres, a.HistorySource)
	}
	if _, err := time.ParseDuration(a.CacheTTL); err != nil {
		return fmt.Errorf("invalid analytics.cache_ttl: %w", err)
	}
	if _, err := time.ParseDuration(a.RunTimeout); err != nil {
		return fmt.Errorf("invalid analytics.run_timeout: %w", err)
	}

	title := cases.Title(language.Und)
	seen := make(map[string]bool, len(a.Markets))
	for i := range a.Markets {
		m := &a.Markets[i]
		m.ID = strings.ToLower(strings.TrimSpace(m.ID))
		if m.ID == "" {
			return fmt.Errorf("analytics.markets[%d] has no id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("analytics.markets has duplicate id %q", m.ID)
		}
		seen[m.ID] = true
		if m.BasePrice <= 0 {
			return fmt.Errorf("analytics.markets[%s] base_price must be positive", m.ID)
		}
		if strings.TrimSpace(m.Name) == "" {
			m.Name = title.String(m.ID)
		}
	}
	return nil
}

type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type SecurityConfig struct {
	AdminTokenSecret string `mapstructure:"admin_token_secret" json:"-" yaml:"-"`
	AdminTokenIssuer string `mapstructure:"admin_token_issuer"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.admin_token_secret", "ADMIN_TOKEN_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_TOKEN_SECRET environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	environment := strings.ToLower(config.Environment)
	if environment != "development" && config.Security.AdminTokenSecret == "" {
		return nil, errors.New("ADMIN_TOKEN_SECRET environment variable is required in non-development environments")
	}
	config.Environment = environment

	if err := config.Analytics.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "celebrum_trends")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "otlp")
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sample_rate", 0.2)

	// Analytics
	viper.SetDefault("analytics.history_days", 365)
	viper.SetDefault("analytics.horizon_days", 30)
	viper.SetDefault("analytics.validation_days", 30)
	viper.SetDefault("analytics.seasonal_period", 7)
	viper.SetDefault("analytics.forest_trees", 100)
	viper.SetDefault("analytics.forest_max_depth", 10)
	viper.SetDefault("analytics.seed", 42)
	viper.SetDefault("analytics.cluster_count", 3)
	viper.SetDefault("analytics.cluster_restarts", 10)
	viper.SetDefault("analytics.workers", 4)
	viper.SetDefault("analytics.trend_window", 7)
	viper.SetDefault("analytics.trend_threshold", 0.02)
	viper.SetDefault("analytics.history_source", HistorySourceSynthetic)
	viper.SetDefault("analytics.cache_ttl", "10m")
	viper.SetDefault("analytics.run_timeout", "2m")
	viper.SetDefault("analytics.markets", DefaultMarkets())

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "")
	viper.SetDefault("sentry.release", "")
	viper.SetDefault("sentry.traces_sample_rate", 0.0)

	viper.SetDefault("security.admin_token_secret", "")
	viper.SetDefault("security.admin_token_issuer", "celebrum-trends")
}

// DefaultMarkets returns the five Moroccan city markets.
func DefaultMarkets() []map[string]any {
	return []map[string]any{
		{"id": "casablanca", "name": "Casablanca", "base_price": 1.0e-7},
		{"id": "rabat", "name": "Rabat", "base_price": 2.0e-7},
		{"id": "agadir", "name": "Agadir", "base_price": 1.0e-7},
		{"id": "fes", "name": "Fes", "base_price": 1.0e-7},
		{"id": "tanger", "name": "Tanger", "base_price": 3.0e-7},
	}
}
