package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer wraps spans for the trend service's domain operations.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a tracer on the global provider.
func NewBusinessTracer() *BusinessTracer {
	return NewBusinessTracerWith(Tracer(ServiceName + "/business"))
}

// NewBusinessTracerWith creates a tracer around t.
func NewBusinessTracerWith(t trace.Tracer) *BusinessTracer {
	return &BusinessTracer{tracer: t}
}

// AnalysisSummary is recorded on an analysis span when the run finishes.
type AnalysisSummary struct {
	RunID        string
	Markets      int
	Failed       int
	ModelWinners map[string]int
	CacheHit     bool
}

// TraceAnalysisRun starts the span that covers one report request.
func (bt *BusinessTracer) TraceAnalysisRun(ctx context.Context, seed uint64, refresh bool) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "market_trends.analysis",
		trace.WithAttributes(
			attribute.Int64("analysis.seed", int64(seed)),
			attribute.Bool("analysis.refresh", refresh),
		))
}

// RecordAnalysisResult annotates span with the outcome of the run.
func (bt *BusinessTracer) RecordAnalysisResult(span trace.Span, summary AnalysisSummary) {
	span.SetAttributes(
		attribute.String("analysis.run_id", summary.RunID),
		attribute.Int("analysis.markets", summary.Markets),
		attribute.Int("analysis.failed", summary.Failed),
		attribute.Bool("analysis.cache_hit", summary.CacheHit),
	)
	for model, wins := range summary.ModelWinners {
		span.SetAttributes(attribute.Int("analysis.wins."+model, wins))
	}
}

// TraceHistoryLoad starts a span around loading price history.
func (bt *BusinessTracer) TraceHistoryLoad(ctx context.Context, source string, markets int, days int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "market_trends.load_history",
		trace.WithAttributes(
			attribute.String("history.source", source),
			attribute.Int("history.markets", markets),
			attribute.Int("history.days", days),
		))
}

// RecordError marks span as failed.
func (bt *BusinessTracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
