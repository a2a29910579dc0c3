package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/celebrum-trends/internal/telemetry"
)

const tracerName = "github.com/irfndi/celebrum-trends/internal/analytics"

// EngineConfig holds the tunables of an analysis run.
type EngineConfig struct {
	Seed            uint64
	ForestTrees     int
	ForestMaxDepth  int
	ValidationDays  int
	HorizonDays     int
	SeasonalPeriod  int
	ClusterCount    int
	ClusterRestarts int
	Workers         int
	TrendWindow     int
	TrendThreshold  float64
}

// DefaultEngineConfig mirrors the defaults of the individual components.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Seed:            DefaultForestSeed,
		ForestTrees:     DefaultForestTrees,
		ForestMaxDepth:  DefaultForestMaxDepth,
		ValidationDays:  DefaultValidationDays,
		HorizonDays:     DefaultHorizonDays,
		SeasonalPeriod:  DefaultSeasonalPeriod,
		ClusterCount:    3,
		ClusterRestarts: 10,
		Workers:         4,
		TrendWindow:     7,
		TrendThreshold:  0.02,
	}
}

// Engine runs selection, projection and clustering over a set of markets.
type Engine struct {
	selector  *ModelSelector
	projector *HorizonProjector
	clusterer *ShapeClusterer
	labeler   *TrendLabeler
	workers   int
	seed      uint64
	logger    *logrus.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEngine wires the components from cfg.
func NewEngine(cfg EngineConfig, logger *logrus.Logger) *Engine {
	regression := NewRegressionForecaster(cfg.Seed)
	if cfg.ForestTrees > 0 {
		regression.Trees = cfg.ForestTrees
	}
	if cfg.ForestMaxDepth > 0 {
		regression.MaxDepth = cfg.ForestMaxDepth
	}
	statistical := NewStatisticalForecaster()
	if cfg.SeasonalPeriod > 0 {
		statistical.Period = cfg.SeasonalPeriod
	}
	return NewEngineWithForecasters(cfg, regression, statistical, logger)
}

// NewEngineWithForecasters builds an engine around caller-supplied forecasters.
func NewEngineWithForecasters(cfg EngineConfig, regression, statistical Forecaster, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	selector := NewModelSelector(regression, statistical)
	if cfg.ValidationDays > 0 {
		selector.ValidationDays = cfg.ValidationDays
	}
	projector := NewHorizonProjector(regression, statistical)
	if cfg.HorizonDays > 0 {
		projector.Horizon = cfg.HorizonDays
	}
	clusterer := NewShapeClusterer()
	clusterer.Seed = cfg.Seed
	if cfg.ClusterCount > 0 {
		clusterer.K = cfg.ClusterCount
	}
	if cfg.ClusterRestarts > 0 {
		clusterer.NInit = cfg.ClusterRestarts
	}
	labeler := NewTrendLabeler()
	if cfg.TrendWindow > 0 {
		labeler.Window = cfg.TrendWindow
	}
	if cfg.TrendThreshold > 0 {
		labeler.Threshold = cfg.TrendThreshold
	}
	return &Engine{
		selector:  selector,
		projector: projector,
		clusterer: clusterer,
		labeler:   labeler,
		workers:   max(cfg.Workers, 1),
		seed:      cfg.Seed,
		logger:    logger,
		tracer:    telemetry.Tracer(tracerName),
		now:       time.Now,
	}
}

// Analyze forecasts every market and clusters the set. A market whose
// forecast fails is reported with Err set; a clustering failure or context
// cancellation fails the whole run.
func (e *Engine) Analyze(ctx context.Context, series []PriceSeries) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.Analyze",
		trace.WithAttributes(attribute.Int("markets.count", len(series))))
	defer span.End()

	report := &Report{
		RunID:       uuid.New(),
		GeneratedAt: e.now().UTC(),
		Seed:        e.seed,
		Markets:     make([]MarketReport, len(series)),
	}
	log := e.logger.WithFields(logrus.Fields{
		"run_id":  report.RunID.String(),
		"markets": len(series),
	})
	log.Info("Starting market trend analysis")
	start := time.Now()

	var clusters ClusterAssignment
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers + 1)
	g.Go(func() error {
		var err error
		clusters, err = e.clusterer.Cluster(series)
		return err
	})
	for i, s := range series {
		g.Go(func() error {
			report.Markets[i] = e.analyzeMarket(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Market clustering failed")
		return nil, fmt.Errorf("cluster markets: %w", err)
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for i := range report.Markets {
		report.Markets[i].Cluster = clusters[series[i].MarketID]
	}

	failed := len(report.Failed())
	span.SetAttributes(attribute.Int("markets.failed", failed))
	log.WithFields(logrus.Fields{
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Market trend analysis completed")
	return report, nil
}

func (e *Engine) analyzeMarket(ctx context.Context, s PriceSeries) MarketReport {
	_, span := e.tracer.Start(ctx, "analytics.AnalyzeMarket",
		trace.WithAttributes(attribute.String("market.id", s.MarketID)))
	defer span.End()

	out := MarketReport{ForecastResult: ForecastResult{MarketID: s.MarketID}}
	fail := func(err error) MarketReport {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WithFields(logrus.Fields{
			"market_id": s.MarketID,
			"points":    s.Len(),
		}).WithError(err).Warn("Market forecast failed")
		out.Err = err
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := s.Validate(); err != nil {
		return fail(err)
	}
	sel, err := e.selector.Select(s)
	if err != nil {
		return fail(err)
	}
	out.Scores = sel.Scores
	result, err := e.projector.Project(s, sel)
	if err != nil {
		return fail(fmt.Errorf("project %s: %w", s.MarketID, err))
	}
	out.ForecastResult = result

	forecast := make([]float64, len(result.Forecast))
	for i, p := range result.Forecast {
		forecast[i] = p.Price
	}
	out.Trend = e.labeler.Label(s.Prices(), forecast)

	span.SetAttributes(
		attribute.String("model.used", string(result.ModelUsed)),
		attribute.Float64("model.rmse", result.ValidationError),
	)
	e.logger.WithFields(logrus.Fields{
		"market_id":  s.MarketID,
		"model_used": result.ModelUsed,
		"rmse":       result.ValidationError,
		"trend":      out.Trend,
	}).Debug("Market forecast ready")
	return out
}
