package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-trends/internal/analytics"
	"github.com/irfndi/celebrum-trends/internal/config"
	"github.com/irfndi/celebrum-trends/internal/database"
	"github.com/irfndi/celebrum-trends/internal/logging"
	"github.com/irfndi/celebrum-trends/internal/middleware"
	"github.com/irfndi/celebrum-trends/internal/services"
)

var (
	logLevel string
	seedFlag uint64
	seedSet  bool
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(config.Load).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)

func newRootCmd(load configLoader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trendctl",
		Short:         "Market trend analytics tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Uint64Var(&seedFlag, "seed", 0, "Seed overriding analytics.seed")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		seedSet = cmd.Flags().Changed("seed")
	}

	rootCmd.AddCommand(analyzeCmd(load))
	rootCmd.AddCommand(seedHistoryCmd(load))
	rootCmd.AddCommand(tokenCmd(load))
	return rootCmd
}

func loadConfig(load configLoader) (*config.Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if seedSet {
		cfg.Analytics.Seed = seedFlag
	}
	return cfg, nil
}

// analyzeCmd runs one analysis and prints the report as JSON
func analyzeCmd(load configLoader) *cobra.Command {
	var (
		days   int
		source string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Forecast and cluster every configured market",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(load)
			if err != nil {
				return err
			}
			if days > 0 {
				cfg.Analytics.HistoryDays = days
			}
			if source != "" {
				cfg.Analytics.HistorySource = source
			}
			if err := cfg.Analytics.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := logging.NewLogrusLogger(logLevel)
			logger.SetOutput(cmd.ErrOrStderr())

			var history analytics.HistorySource = analytics.NewSyntheticSource(cfg.Analytics.Seed)
			if cfg.Analytics.HistorySource == config.HistorySourcePostgres {
				db, err := database.NewPostgresConnection(ctx, cfg.Database)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer db.Close()
				history = database.NewPriceHistoryRepository(db.Pool, logger)
			}

			svc := services.NewMarketTrendService(cfg.Analytics, services.MarketTrendDeps{
				Source: history,
				Logger: logger,
			})
			report, _, err := svc.GetMarketTrends(ctx, services.TrendOptions{})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "History span in days (default analytics.history_days)")
	cmd.Flags().StringVar(&source, "source", "", "History source: synthetic or postgres")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

// seedHistoryCmd writes synthetic history into the price_history table
func seedHistoryCmd(load configLoader) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "seed-history",
		Short: "Generate synthetic history and store it in Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(load)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Analytics.HistoryDays
			}

			ctx := cmd.Context()
			logger := logging.NewLogrusLogger(logLevel)
			logger.SetOutput(cmd.ErrOrStderr())

			db, err := database.NewPostgresConnection(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			repo := database.NewPriceHistoryRepository(database.NewTracedDB(db.Pool, logger), logger)
			rows, err := seedHistory(ctx, repo, cfg.Analytics, days, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d rows for %d markets (seed %d)\n",
				rows, len(cfg.Analytics.Markets), cfg.Analytics.Seed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "History span in days (default analytics.history_days)")
	return cmd
}

// historyStore is the subset of the repository seed-history needs.
type historyStore interface {
	EnsureSchema(ctx context.Context) error
	SaveHistory(ctx context.Context, series ...analytics.PriceSeries) (int64, error)
}

func seedHistory(ctx context.Context, store historyStore, cfg config.AnalyticsConfig, days int, end time.Time) (int64, error) {
	if err := store.EnsureSchema(ctx); err != nil {
		return 0, fmt.Errorf("failed to prepare schema: %w", err)
	}
	markets := make([]analytics.MarketSpec, len(cfg.Markets))
	for i, m := range cfg.Markets {
		markets[i] = analytics.MarketSpec{ID: m.ID, BasePrice: m.BasePrice}
	}
	series, err := analytics.NewSyntheticSource(cfg.Seed).LoadHistory(ctx, markets, days, end)
	if err != nil {
		return 0, err
	}
	rows, err := store.SaveHistory(ctx, series...)
	if err != nil {
		return 0, fmt.Errorf("failed to save history: %w", err)
	}
	return rows, nil
}

// tokenCmd issues an admin token for the cache invalidation endpoint
func tokenCmd(load configLoader) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin JWT signed with security.admin_token_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(load)
			if err != nil {
				return err
			}
			if cfg.Security.AdminTokenSecret == "" {
				return fmt.Errorf("security.admin_token_secret is not set")
			}
			auth := middleware.NewAuthMiddleware(cfg.Security.AdminTokenSecret, cfg.Security.AdminTokenIssuer)
			token, err := auth.GenerateToken(subject, middleware.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "trendctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
