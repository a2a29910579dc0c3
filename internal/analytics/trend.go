package analytics

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// TrendDirection summarizes where a market's forecast is heading.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// TrendLabeler compares the moving average of the last observed week with
// the moving average of the final forecast week.
type TrendLabeler struct {
	Window    int
	Threshold float64
}

// NewTrendLabeler returns a labeler with a seven-day window and a 2% band.
func NewTrendLabeler() *TrendLabeler {
	return &TrendLabeler{Window: 7, Threshold: 0.02}
}

// Label returns an empty direction when either side is shorter than the window.
func (l *TrendLabeler) Label(history []float64, forecast []float64) TrendDirection {
	before, ok := l.lastSma(history)
	if !ok || before == 0 {
		return ""
	}
	after, ok := l.lastSma(forecast)
	if !ok {
		return ""
	}

	change := (after - before) / math.Abs(before)
	switch {
	case change > l.Threshold:
		return TrendRising
	case change < -l.Threshold:
		return TrendFalling
	default:
		return TrendStable
	}
}

func (l *TrendLabeler) lastSma(values []float64) (float64, bool) {
	window := l.Window
	if window <= 0 {
		window = 7
	}
	if len(values) < window {
		return 0, false
	}
	sma := trend.NewSmaWithPeriod[float64](window)
	result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values[len(values)-window:])))
	if len(result) == 0 {
		return 0, false
	}
	return result[len(result)-1], true
}
