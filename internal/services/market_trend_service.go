package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/irfndi/celebrum-trends/internal/analytics"
	"github.com/irfndi/celebrum-trends/internal/cache"
	"github.com/irfndi/celebrum-trends/internal/config"
	"github.com/irfndi/celebrum-trends/internal/logging"
	"github.com/irfndi/celebrum-trends/internal/metrics"
	"github.com/irfndi/celebrum-trends/internal/models"
	"github.com/irfndi/celebrum-trends/internal/observability"
	"github.com/irfndi/celebrum-trends/internal/telemetry"
)

// TrendOptions controls a single GetMarketTrends call.
type TrendOptions struct {
	// Refresh skips the cache lookup. The fresh report still replaces the cached one.
	Refresh bool
	// Seed overrides the configured seed when non-nil.
	Seed *uint64
}

// MarketTrendDeps groups the collaborators of MarketTrendService.
type MarketTrendDeps struct {
	Source  analytics.HistorySource
	Cache   *cache.TrendCache
	Metrics *metrics.Metrics
	Tracer  *telemetry.BusinessTracer
	Logger  *logrus.Logger
	Events  logging.Logger
}

// MarketTrendService produces market trend reports on demand.
type MarketTrendService struct {
	cfg      config.AnalyticsConfig
	source   analytics.HistorySource
	cache    *cache.TrendCache
	metrics  *metrics.Metrics
	tracer   *telemetry.BusinessTracer
	logger   *logrus.Logger
	events   logging.Logger
	recovery *ErrorRecoveryManager
	breaker  *CircuitBreaker
	flight   singleflight.Group
	markets  []analytics.MarketSpec
	names    map[string]string
	now      func() time.Time
}

// NewMarketTrendService creates the service. cfg must already be validated.
// A nil cache disables caching; nil metrics and tracer are replaced with
// unregistered defaults.
func NewMarketTrendService(cfg config.AnalyticsConfig, deps MarketTrendDeps) *MarketTrendService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	source := deps.Source
	if source == nil {
		source = analytics.NewSyntheticSource(cfg.Seed)
	}

	s := &MarketTrendService{
		cfg:      cfg,
		source:   source,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		tracer:   tracer,
		logger:   logger,
		events:   deps.Events,
		recovery: NewErrorRecoveryManager(logger),
		breaker: NewCircuitBreaker("trend_cache", CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			MaxRequests:      1,
		}, logger),
		names: make(map[string]string, len(cfg.Markets)),
		now:   time.Now,
	}
	for _, m := range cfg.Markets {
		s.markets = append(s.markets, analytics.MarketSpec{ID: m.ID, BasePrice: m.BasePrice})
		s.names[m.ID] = m.Name
	}

	if s.metrics != nil {
		s.recovery.OnRetry(func(op string, _ int, _ error) {
			if op == OperationHistoryLoad {
				s.metrics.HistoryLoadRetry.Inc()
			}
		})
		if s.cache != nil {
			s.cache.SetObserver(s.metrics.ObserveCacheLookup)
		}
	}
	return s
}

// GetMarketTrends returns the trend report for the requested seed. The
// boolean reports whether the result came from the cache. Concurrent
// requests for the same key share one computation.
func (s *MarketTrendService) GetMarketTrends(ctx context.Context, opts TrendOptions) (*models.TrendReport, bool, error) {
	seed := s.cfg.Seed
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	ctx, span := s.tracer.TraceAnalysisRun(ctx, seed, opts.Refresh)
	defer span.End()

	end := s.now().UTC()
	key := cache.Key(seed, end)

	if s.cache != nil && !opts.Refresh {
		lookupStart := time.Now()
		report, ok := s.cache.Get(ctx, key)
		if s.events != nil {
			s.events.LogCacheOperation("get", key, ok, time.Since(lookupStart).Milliseconds())
		}
		if ok {
			if s.metrics != nil {
				s.metrics.ObserveCached()
			}
			s.tracer.RecordAnalysisResult(span, summarize(report, true))
			return report, true, nil
		}
	}

	flightKey := key
	if opts.Refresh {
		flightKey += ":refresh"
	}
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		return s.compute(context.WithoutCancel(ctx), seed, end, key)
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, false, err
	}
	report := v.(*models.TrendReport)
	s.tracer.RecordAnalysisResult(span, summarize(report, false))
	return report, false, nil
}

func (s *MarketTrendService) compute(ctx context.Context, seed uint64, end time.Time, key string) (*models.TrendReport, error) {
	if timeout := s.cfg.RunTimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	series, err := s.loadHistory(ctx, seed, end)
	if err != nil {
		err = fmt.Errorf("load history: %w", err)
		s.observeRunError()
		s.logFailure(err, "load_history", seed)
		observability.CaptureAnalysisFailure(ctx, err, "load_history", seed)
		return nil, err
	}

	engine := analytics.NewEngine(s.engineConfig(seed), s.logger)
	report, err := engine.Analyze(ctx, series)
	if err != nil {
		err = fmt.Errorf("analyze markets: %w", err)
		s.observeRunError()
		s.logFailure(err, "analyze", seed)
		observability.CaptureAnalysisFailure(ctx, err, "analyze", seed)
		return nil, err
	}
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveReport(report, elapsed)
	}
	failed := len(report.Failed())
	if s.events != nil {
		s.events.LogAnalysisRun(report.RunID.String(), len(report.Markets), failed, elapsed.Milliseconds())
		s.logMarkets(report)
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":   report.RunID.String(),
		"seed":     seed,
		"markets":  len(report.Markets),
		"failed":   failed,
		"duration": elapsed,
	}).Info("Market trend analysis completed")

	out := models.NewTrendReport(report, s.names)
	s.store(ctx, key, out)
	return out, nil
}

func (s *MarketTrendService) loadHistory(ctx context.Context, seed uint64, end time.Time) ([]analytics.PriceSeries, error) {
	source := s.source
	if seeded, ok := source.(analytics.SeededSource); ok {
		source = seeded.WithSeed(seed)
	}

	ctx, span := s.tracer.TraceHistoryLoad(ctx, s.cfg.HistorySource, len(s.markets), s.cfg.HistoryDays)
	defer span.End()

	var series []analytics.PriceSeries
	err := s.recovery.ExecuteWithRetry(ctx, OperationHistoryLoad, func() error {
		var err error
		series, err = source.LoadHistory(ctx, s.markets, s.cfg.HistoryDays, end)
		return err
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}
	return series, nil
}

// store writes report to the cache. Failures are logged, never returned.
func (s *MarketTrendService) store(ctx context.Context, key string, report *models.TrendReport) {
	if s.cache == nil {
		return
	}
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.recovery.ExecuteWithRetry(ctx, OperationCacheWrite, func() error {
			return s.cache.Set(ctx, key, report)
		})
	})
	if s.events != nil && err == nil {
		s.events.LogCacheOperation("set", key, false, time.Since(start).Milliseconds())
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to cache market trend report")
	}
}

// InvalidateCache drops every cached report and returns how many Redis
// keys were removed.
func (s *MarketTrendService) InvalidateCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	var removed int
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		removed, err = s.cache.Invalidate(ctx)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return 0, fmt.Errorf("invalidate cache: %w", err)
	}
	if err != nil {
		return removed, err
	}
	if s.events != nil {
		s.events.WithOperation("invalidate_cache").Info("Market trend cache invalidated", "removed", removed)
	} else {
		s.logger.WithField("removed", removed).Info("Market trend cache invalidated")
	}
	return removed, nil
}

// CacheStats returns the cache counters, or zero values without a cache.
func (s *MarketTrendService) CacheStats() cache.TrendCacheStats {
	if s.cache == nil {
		return cache.TrendCacheStats{}
	}
	return s.cache.Stats()
}

// BreakerState reports the state of the cache circuit breaker.
func (s *MarketTrendService) BreakerState() CircuitBreakerState {
	return s.breaker.GetState()
}

func (s *MarketTrendService) engineConfig(seed uint64) analytics.EngineConfig {
	return analytics.EngineConfig{
		Seed:            seed,
		ForestTrees:     s.cfg.ForestTrees,
		ForestMaxDepth:  s.cfg.ForestMaxDepth,
		ValidationDays:  s.cfg.ValidationDays,
		HorizonDays:     s.cfg.HorizonDays,
		SeasonalPeriod:  s.cfg.SeasonalPeriod,
		ClusterCount:    s.cfg.ClusterCount,
		ClusterRestarts: s.cfg.ClusterRestarts,
		Workers:         s.cfg.Workers,
		TrendWindow:     s.cfg.TrendWindow,
		TrendThreshold:  s.cfg.TrendThreshold,
	}
}

// logMarkets emits one event per market, tagged with the run it belongs to.
func (s *MarketTrendService) logMarkets(report *analytics.Report) {
	runID := report.RunID.String()
	for _, m := range report.Markets {
		if m.Err != nil {
			s.events.WithRunID(runID).Warn("Market forecast failed",
				"market_id", m.MarketID,
				"error", m.Err.Error(),
			)
			continue
		}
		s.events.WithMarket(m.MarketID).Debug("Market forecast selected",
			"run_id", runID,
			"model", string(m.ModelUsed),
			"cluster", m.Cluster,
			"trend", string(m.Trend),
		)
	}
}

func (s *MarketTrendService) logFailure(err error, stage string, seed uint64) {
	if s.events != nil {
		s.events.WithError(err).Error("Market trend analysis failed", "stage", stage, "seed", seed)
	}
}

func (s *MarketTrendService) observeRunError() {
	if s.metrics != nil {
		s.metrics.ObserveRunError()
	}
}

func summarize(report *models.TrendReport, cached bool) telemetry.AnalysisSummary {
	winners := make(map[string]int)
	for _, m := range report.Markets {
		if m.Error == "" {
			winners[m.ModelUsed]++
		}
	}
	return telemetry.AnalysisSummary{
		RunID:        report.RunID.String(),
		Markets:      len(report.Markets),
		Failed:       report.Failed(),
		ModelWinners: winners,
		CacheHit:     cached,
	}
}

// ParseSeed parses a seed query value. An empty string yields nil.
func ParseSeed(raw string) (*uint64, error) {
	if raw == "" {
		return nil, nil
	}
	seed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("must be a non-negative integer: %w", err)
	}
	return &seed, nil
}
