package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/irfndi/celebrum-trends/internal/analytics"
)

// ForecastPoint is one projected daily price in API responses
type ForecastPoint struct {
	Date  string          `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// MarketTrend is the per-city entry of the trends endpoint
type MarketTrend struct {
	City          string          `json:"city"`
	MarketID      string          `json:"market_id"`
	ModelUsed     string          `json:"model_used"`
	RMSEError     *float64        `json:"rmse_error"`
	MarketCluster string          `json:"market_cluster"`
	ClusterID     int             `json:"cluster_id"`
	Trend         string          `json:"trend,omitempty"`
	Forecast      []ForecastPoint `json:"forecast"`
	Error         string          `json:"error,omitempty"`
}

// TrendReport is the cacheable result of one analysis run
type TrendReport struct {
	RunID       uuid.UUID     `json:"run_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Seed        uint64        `json:"seed"`
	Markets     []MarketTrend `json:"markets"`
}

// TrendsResponse is the envelope returned by GET /api/v1/analytics/trends
type TrendsResponse struct {
	Status string        `json:"status"`
	Data   []MarketTrend `json:"data"`
	RunID  uuid.UUID     `json:"run_id"`
	Cached bool          `json:"cached"`
}

// NewTrendReport converts an engine report. names maps market ids to display
// names; ids without an entry are used as-is. A validation error of +Inf,
// which means neither model could be scored, is reported as null.
func NewTrendReport(report *analytics.Report, names map[string]string) *TrendReport {
	out := &TrendReport{
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt,
		Seed:        report.Seed,
		Markets:     make([]MarketTrend, 0, len(report.Markets)),
	}
	for _, m := range report.Markets {
		city := names[m.MarketID]
		if city == "" {
			city = m.MarketID
		}
		trend := MarketTrend{
			City:          city,
			MarketID:      m.MarketID,
			ModelUsed:     string(m.ModelUsed),
			MarketCluster: fmt.Sprintf("Cluster %d", m.Cluster),
			ClusterID:     m.Cluster,
			Trend:         string(m.Trend),
			Forecast:      make([]ForecastPoint, len(m.Forecast)),
		}
		if m.Err != nil {
			trend.Error = m.Err.Error()
		} else if !math.IsInf(m.ValidationError, 0) && !math.IsNaN(m.ValidationError) {
			rmse := m.ValidationError
			trend.RMSEError = &rmse
		}
		for i, p := range m.Forecast {
			trend.Forecast[i] = ForecastPoint{
				Date:  p.Date.Format(time.DateOnly),
				Price: decimal.NewFromFloat(p.Price),
			}
		}
		out.Markets = append(out.Markets, trend)
	}
	return out
}

// Failed counts the markets that carry an error.
func (r *TrendReport) Failed() int {
	var n int
	for _, m := range r.Markets {
		if m.Error != "" {
			n++
		}
	}
	return n
}
