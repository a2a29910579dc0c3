package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/celebrum-trends/internal/analytics"
	"github.com/irfndi/celebrum-trends/internal/api"
	"github.com/irfndi/celebrum-trends/internal/cache"
	"github.com/irfndi/celebrum-trends/internal/config"
	"github.com/irfndi/celebrum-trends/internal/database"
	"github.com/irfndi/celebrum-trends/internal/logging"
	"github.com/irfndi/celebrum-trends/internal/metrics"
	"github.com/irfndi/celebrum-trends/internal/middleware"
	"github.com/irfndi/celebrum-trends/internal/observability"
	"github.com/irfndi/celebrum-trends/internal/services"
	"github.com/irfndi/celebrum-trends/internal/telemetry"
)

const (
	serviceName = "celebrum-trends"
	version     = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()

	provider, err := telemetry.InitTelemetry(ctx, telemetry.TelemetryConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Environment,
		Release:     version,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	if err := observability.InitSentry(cfg.Sentry, version, cfg.Environment); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		observability.Flush(flushCtx)
	}()

	logger, otlpLogger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	if otlpLogger != nil {
		defer func() { _ = otlpLogger.Shutdown(context.Background()) }()
	}
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel)

	logger.WithService(serviceName).Info("Configuration loaded",
		"environment", cfg.Environment,
		"history_source", cfg.Analytics.HistorySource,
		"markets", len(cfg.Analytics.Markets),
	)

	deps := api.RouteDeps{Version: version}
	var source analytics.HistorySource = analytics.NewSyntheticSource(cfg.Analytics.Seed)

	if cfg.Analytics.HistorySource == config.HistorySourcePostgres {
		db, err := database.NewPostgresConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		repo := database.NewPriceHistoryRepository(database.NewTracedDB(db.Pool, logrusLogger).WithEvents(logger), logrusLogger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare price history schema: %w", err)
		}
		source = repo
		deps.DB = db
	}

	var rdb *redis.Client
	if redisClient, err := database.NewRedisConnection(cfg.Redis); err != nil {
		logger.WithComponent("cache").Warn("Redis unavailable, caching reports in memory only", "error", err.Error())
	} else {
		defer redisClient.Close()
		rdb = redisClient.Client
		deps.Redis = redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Gatherer = registry

	trendCache := cache.NewTrendCache(rdb, 32, cfg.Analytics.CacheTTLDuration(), logrusLogger)

	deps.Trends = services.NewMarketTrendService(cfg.Analytics, services.MarketTrendDeps{
		Source:  source,
		Cache:   trendCache,
		Metrics: metrics.New(registry),
		Tracer:  telemetry.NewBusinessTracer(),
		Logger:  logrusLogger,
		Events:  logger,
	})
	deps.Auth = middleware.NewAuthMiddleware(cfg.Security.AdminTokenSecret, cfg.Security.AdminTokenIssuer)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RequestLogger(logger))
	api.SetupRoutes(router, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Analytics.RunTimeoutDuration() + 10*time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	logger.LogShutdown(serviceName, "signal received")

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrusLogger.WithFields(logrus.Fields{"service": serviceName}).Info("Server exited gracefully")
	return nil
}
