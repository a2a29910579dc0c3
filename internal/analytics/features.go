package analytics

import (
	"fmt"
	"math"
	"time"
)

// Feature column names, in fit order.
const (
	FeatureDayOfYear = "day_of_year"
	FeatureMonth     = "month"
	FeatureDayOfWeek = "day_of_week"
	FeatureLag1      = "lag_1"
	FeatureLag7      = "lag_7"
)

// DefaultFeatureColumns is the column order used to train the regressor.
var DefaultFeatureColumns = []string{FeatureDayOfYear, FeatureMonth, FeatureDayOfWeek, FeatureLag1, FeatureLag7}

const maxLag = 7

// FeatureRow is one supervised training example derived from a series.
type FeatureRow struct {
	Date      time.Time
	DayOfYear int
	Month     int
	DayOfWeek int
	Lag1      float64
	Lag7      float64
	Target    float64
}

// Vector returns the row's predictors keyed by column name.
func (r FeatureRow) Vector() FeatureVector {
	v := calendarFeatures(r.Date)
	v[FeatureLag1] = r.Lag1
	v[FeatureLag7] = r.Lag7
	return v
}

// BuildFeatures derives calendar and lag features. Rows without a full
// seven-day lookback are dropped, so a series of n points yields max(n-7, 0) rows.
func BuildFeatures(series PriceSeries) []FeatureRow {
	n := series.Len()
	if n <= maxLag {
		return nil
	}
	rows := make([]FeatureRow, 0, n-maxLag)
	for i := maxLag; i < n; i++ {
		d := series.Points[i].Date
		rows = append(rows, FeatureRow{
			Date:      d,
			DayOfYear: d.YearDay(),
			Month:     int(d.Month()),
			DayOfWeek: isoWeekday(d),
			Lag1:      series.Points[i-1].Price,
			Lag7:      series.Points[i-maxLag].Price,
			Target:    series.Points[i].Price,
		})
	}
	return rows
}

// FeatureVector is a named set of predictor values.
type FeatureVector map[string]float64

func calendarFeatures(d time.Time) FeatureVector {
	return FeatureVector{
		FeatureDayOfYear: float64(d.YearDay()),
		FeatureMonth:     float64(d.Month()),
		FeatureDayOfWeek: float64(isoWeekday(d)),
	}
}

// Align returns a copy holding exactly the given columns: extra entries are
// dropped and missing ones are filled with zero.
func (v FeatureVector) Align(columns []string) (FeatureVector, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no fit-time columns", ErrFeatureAlignment)
	}
	out := make(FeatureVector, len(columns))
	for _, col := range columns {
		val := v[col]
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("%w: column %s is not finite", ErrFeatureAlignment, col)
		}
		out[col] = val
	}
	return out, nil
}

// Values lays the vector out in column order.
func (v FeatureVector) Values(columns []string) []float64 {
	out := make([]float64, len(columns))
	for i, col := range columns {
		out[i] = v[col]
	}
	return out
}

// featureMatrix converts rows into a design matrix and target vector.
func featureMatrix(rows []FeatureRow, columns []string) ([][]float64, []float64) {
	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Vector().Values(columns)
		y[i] = r.Target
	}
	return x, y
}
