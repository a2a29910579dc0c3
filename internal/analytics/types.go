package analytics

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ModelKind names the forecasting strategy used for a market.
type ModelKind string

const (
	ModelRegression         ModelKind = "Regression"
	ModelStatistical        ModelKind = "Statistical"
	ModelRegressionFallback ModelKind = "Regression (Fallback)"
)

// PricePoint is a single daily observation for one market.
type PricePoint struct {
	Date     time.Time `json:"date"`
	MarketID string    `json:"market_id"`
	Price    float64   `json:"price"`
}

// PriceSeries holds one market's daily prices ordered by date.
type PriceSeries struct {
	MarketID string       `json:"market_id"`
	Points   []PricePoint `json:"points"`
}

// Len returns the number of observations.
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// Prices returns the raw price values in date order.
func (s PriceSeries) Prices() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Price
	}
	return out
}

// Dates returns the observation dates in order.
func (s PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// LastDate returns the date of the final observation.
func (s PriceSeries) LastDate() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// Slice returns the sub-series [from, to).
func (s PriceSeries) Slice(from, to int) PriceSeries {
	return PriceSeries{MarketID: s.MarketID, Points: s.Points[from:to]}
}

// Validate checks that the series has exactly one point per calendar day with
// no gaps and strictly positive prices.
func (s PriceSeries) Validate() error {
	for i, p := range s.Points {
		if p.Price <= 0 {
			return fmt.Errorf("%w: %s has non-positive price on %s", ErrInvalidSeries, s.MarketID, p.Date.Format(time.DateOnly))
		}
		if i == 0 {
			continue
		}
		prev := s.Points[i-1].Date
		if !p.Date.Equal(prev.AddDate(0, 0, 1)) {
			return fmt.Errorf("%w: %s expected %s after %s, got %s", ErrInvalidSeries, s.MarketID,
				prev.AddDate(0, 0, 1).Format(time.DateOnly), prev.Format(time.DateOnly), p.Date.Format(time.DateOnly))
		}
	}
	return nil
}

// ForecastResult is the projected outlook for one market.
type ForecastResult struct {
	MarketID        string       `json:"market_id"`
	ModelUsed       ModelKind    `json:"model_used"`
	ValidationError float64      `json:"validation_error"`
	Forecast        []PricePoint `json:"forecast"`
}

// ClusterAssignment maps a market to its opaque shape cluster label.
type ClusterAssignment map[string]int

// MarketReport merges a market's forecast with its cluster and trend labels.
// Err is set when the market's forecast failed; the cluster label is still valid.
type MarketReport struct {
	ForecastResult
	Cluster int                   `json:"cluster"`
	Trend   TrendDirection        `json:"trend,omitempty"`
	Scores  map[ModelKind]float64 `json:"-"`
	Err     error                 `json:"-"`
}

// Report is the output of one analysis run, in input market order.
type Report struct {
	RunID       uuid.UUID      `json:"run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Seed        uint64         `json:"seed"`
	Markets     []MarketReport `json:"markets"`
}

// Failed returns the markets whose forecast could not be produced.
func (r *Report) Failed() []MarketReport {
	var out []MarketReport
	for _, m := range r.Markets {
		if m.Err != nil {
			out = append(out, m)
		}
	}
	return out
}

// truncateDay normalizes t to a UTC calendar date.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// isoWeekday maps time.Weekday onto Monday=0 ... Sunday=6.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
