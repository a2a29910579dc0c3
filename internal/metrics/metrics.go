package metrics

import (
	"errors"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/irfndi/celebrum-trends/internal/analytics"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
	StatusCached  = "cached"
)

// Metrics holds the Prometheus collectors of the trend service.
type Metrics struct {
	AnalysisRuns     *prometheus.CounterVec
	ModelWins        *prometheus.CounterVec
	MarketFailures   *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	ValidationRMSE   *prometheus.HistogramVec
	RunDuration      prometheus.Histogram
	HistoryLoadRetry prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AnalysisRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_trends_analysis_runs_total",
				Help: "Number of market trend analysis requests by outcome",
			},
			[]string{"status"},
		),
		ModelWins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_trends_model_wins_total",
				Help: "Number of markets forecast by each model",
			},
			[]string{"model"},
		),
		MarketFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_trends_market_failures_total",
				Help: "Number of markets whose forecast failed, by reason",
			},
			[]string{"reason"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_trends_cache_lookups_total",
				Help: "Report cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		ValidationRMSE: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "market_trends_validation_rmse",
				Help:    "Held-out RMSE of the selected model, relative to the market's last price",
				Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"model"},
		),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_trends_run_duration_seconds",
			Help:    "Wall time of one analysis run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		HistoryLoadRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "market_trends_history_load_retries_total",
			Help: "Number of retried price history loads",
		}),
	}
}

// ObserveReport records a finished analysis run.
func (m *Metrics) ObserveReport(report *analytics.Report, elapsed time.Duration) {
	status := StatusSuccess
	if len(report.Failed()) > 0 {
		status = StatusPartial
	}
	m.AnalysisRuns.WithLabelValues(status).Inc()
	m.RunDuration.Observe(elapsed.Seconds())

	for _, market := range report.Markets {
		if market.Err != nil {
			m.MarketFailures.WithLabelValues(FailureReason(market.Err)).Inc()
			continue
		}
		m.ModelWins.WithLabelValues(string(market.ModelUsed)).Inc()
		if n := len(market.Forecast); n > 0 && !math.IsInf(market.ValidationError, 0) {
			// Normalize by price level so markets with tiny prices share buckets.
			if level := market.Forecast[0].Price; level > 0 {
				m.ValidationRMSE.WithLabelValues(string(market.ModelUsed)).Observe(market.ValidationError / level)
			}
		}
	}
}

// ObserveRunError records a run that produced no report.
func (m *Metrics) ObserveRunError() {
	m.AnalysisRuns.WithLabelValues(StatusError).Inc()
}

// ObserveCached records a request served from the cache.
func (m *Metrics) ObserveCached() {
	m.AnalysisRuns.WithLabelValues(StatusCached).Inc()
}

// ObserveCacheLookup records one cache lookup on tier.
func (m *Metrics) ObserveCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// FailureReason maps a market error onto a bounded label value.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, analytics.ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, analytics.ErrInvalidSeries):
		return "invalid_series"
	case errors.Is(err, analytics.ErrRegressionFit):
		return "regression_fit"
	case errors.Is(err, analytics.ErrStatisticalFit):
		return "statistical_fit"
	case errors.Is(err, analytics.ErrFeatureAlignment):
		return "feature_alignment"
	default:
		return "other"
	}
}
