package analytics

import (
	"fmt"
	"time"
)

// DefaultHorizonDays is how far past the last observation forecasts extend.
const DefaultHorizonDays = 30

// HorizonProjector refits the selected model on the full series and
// produces a daily forecast.
type HorizonProjector struct {
	Horizon     int
	Regression  Forecaster
	Statistical Forecaster
}

// NewHorizonProjector returns a projector with the default horizon.
func NewHorizonProjector(regression, statistical Forecaster) *HorizonProjector {
	return &HorizonProjector{
		Horizon:     DefaultHorizonDays,
		Regression:  regression,
		Statistical: statistical,
	}
}

// Project refits the winner and returns the forecast. When the statistical
// refit fails the regression model is used and reported as a fallback.
func (p *HorizonProjector) Project(series PriceSeries, sel Selection) (ForecastResult, error) {
	horizon := p.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	result := ForecastResult{
		MarketID:        series.MarketID,
		ModelUsed:       sel.Winner,
		ValidationError: sel.WinnerError,
	}

	var model TrainedModel
	var err error
	switch sel.Winner {
	case ModelStatistical:
		model, err = p.Statistical.Fit(series)
		if err != nil {
			result.ModelUsed = ModelRegressionFallback
			model, err = p.Regression.Fit(series)
		}
	case ModelRegression:
		model, err = p.Regression.Fit(series)
	default:
		return ForecastResult{}, fmt.Errorf("unknown model %q", sel.Winner)
	}
	if err != nil {
		return ForecastResult{}, err
	}

	values, err := model.Project(horizon)
	if err != nil {
		return ForecastResult{}, err
	}
	if len(values) != horizon {
		return ForecastResult{}, fmt.Errorf("projected %d points, want %d", len(values), horizon)
	}

	last := series.LastDate()
	result.Forecast = make([]PricePoint, horizon)
	for i, v := range values {
		result.Forecast[i] = PricePoint{
			Date:     last.AddDate(0, 0, i+1),
			MarketID: series.MarketID,
			Price:    v,
		}
	}
	return result, nil
}

// lagStepper supplies feature vectors for successive future days, feeding
// each prediction back in as the next lag_1. lag_7 is read from the head of a
// rolling seven-value buffer that also absorbs predictions, which
// approximates the true weekly lag once the horizon passes a week.
type lagStepper struct {
	date   time.Time
	lag1   float64
	window []float64
}

func newLagStepper(history PriceSeries) *lagStepper {
	prices := history.Prices()
	window := make([]float64, maxLag)
	copy(window, prices[max(len(prices)-maxLag, 0):])
	var last float64
	if len(prices) > 0 {
		last = prices[len(prices)-1]
	}
	return &lagStepper{
		date:   history.LastDate(),
		lag1:   last,
		window: window,
	}
}

// Next advances one day and returns that day's features.
func (s *lagStepper) Next() FeatureVector {
	s.date = s.date.AddDate(0, 0, 1)
	v := calendarFeatures(s.date)
	v[FeatureLag1] = s.lag1
	v[FeatureLag7] = s.window[0]
	return v
}

// Observe records the prediction for the current day.
func (s *lagStepper) Observe(p float64) {
	s.lag1 = p
	s.window = append(s.window[1:], p)
}
