package analytics

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Forecaster fits a model for one market's price series.
type Forecaster interface {
	Kind() ModelKind
	Fit(series PriceSeries) (TrainedModel, error)
}

// TrainedModel scores itself against held-out data and projects forward.
type TrainedModel interface {
	Validate(heldout PriceSeries) (float64, error)
	Project(horizon int) ([]float64, error)
}

// RegressionForecaster trains a random forest on calendar and lag features.
type RegressionForecaster struct {
	Trees    int
	MaxDepth int
	Seed     uint64
	Columns  []string
}

// NewRegressionForecaster returns a forecaster with the default forest settings.
func NewRegressionForecaster(seed uint64) *RegressionForecaster {
	return &RegressionForecaster{
		Trees:    DefaultForestTrees,
		MaxDepth: DefaultForestMaxDepth,
		Seed:     seed,
		Columns:  DefaultFeatureColumns,
	}
}

func (f *RegressionForecaster) Kind() ModelKind { return ModelRegression }

func (f *RegressionForecaster) Fit(series PriceSeries) (TrainedModel, error) {
	rows := BuildFeatures(series)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows with a full lag window", ErrRegressionFit, series.MarketID)
	}
	columns := f.Columns
	if len(columns) == 0 {
		columns = DefaultFeatureColumns
	}
	x, y := featureMatrix(rows, columns)

	forest := NewRandomForest(f.Seed)
	if f.Trees > 0 {
		forest.Trees = f.Trees
	}
	if f.MaxDepth > 0 {
		forest.MaxDepth = f.MaxDepth
	}
	if err := forest.Fit(x, y, columns); err != nil {
		return nil, err
	}
	return &trainedRegression{forest: forest, history: series}, nil
}

type trainedRegression struct {
	forest  *RandomForest
	history PriceSeries
}

// Validate predicts each held-out day one step ahead using the true lags.
func (m *trainedRegression) Validate(heldout PriceSeries) (float64, error) {
	if heldout.Len() == 0 {
		return math.Inf(1), fmt.Errorf("%w: empty validation window", ErrInsufficientHistory)
	}
	combined := PriceSeries{
		MarketID: m.history.MarketID,
		Points:   slices.Concat(m.history.Points, heldout.Points),
	}
	rows := BuildFeatures(combined)
	from := heldout.Points[0].Date
	var predicted, actual []float64
	for _, r := range rows {
		if r.Date.Before(from) {
			continue
		}
		p, err := m.forest.Predict(r.Vector())
		if err != nil {
			return math.Inf(1), err
		}
		predicted = append(predicted, p)
		actual = append(actual, r.Target)
	}
	if len(predicted) == 0 {
		return math.Inf(1), fmt.Errorf("%w: no validation rows", ErrInsufficientHistory)
	}
	return rmse(actual, predicted), nil
}

func (m *trainedRegression) Project(horizon int) ([]float64, error) {
	stepper := newLagStepper(m.history)
	out := make([]float64, 0, horizon)
	for range horizon {
		p, err := m.forest.Predict(stepper.Next())
		if err != nil {
			return nil, err
		}
		stepper.Observe(p)
		out = append(out, p)
	}
	return out, nil
}

// StatisticalForecaster fits an additive Holt-Winters model.
type StatisticalForecaster struct {
	Period int
}

// NewStatisticalForecaster returns a weekly-season forecaster.
func NewStatisticalForecaster() *StatisticalForecaster {
	return &StatisticalForecaster{Period: DefaultSeasonalPeriod}
}

func (f *StatisticalForecaster) Kind() ModelKind { return ModelStatistical }

func (f *StatisticalForecaster) Fit(series PriceSeries) (TrainedModel, error) {
	period := f.Period
	if period == 0 {
		period = DefaultSeasonalPeriod
	}
	hw := NewHoltWinters(period)
	if err := hw.Fit(series.Prices()); err != nil {
		return nil, fmt.Errorf("%s: %w", series.MarketID, err)
	}
	return &trainedStatistical{model: hw}, nil
}

type trainedStatistical struct {
	model *HoltWinters
}

// Validate forecasts the whole held-out window from the end of training.
func (m *trainedStatistical) Validate(heldout PriceSeries) (float64, error) {
	if heldout.Len() == 0 {
		return math.Inf(1), fmt.Errorf("%w: empty validation window", ErrInsufficientHistory)
	}
	predicted, err := m.model.Forecast(heldout.Len())
	if err != nil {
		return math.Inf(1), err
	}
	return rmse(heldout.Prices(), predicted), nil
}

func (m *trainedStatistical) Project(horizon int) ([]float64, error) {
	return m.model.Forecast(horizon)
}

// rmse returns the root mean squared error between equal-length slices.
func rmse(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return math.Inf(1)
	}
	return floats.Distance(actual, predicted, 2) / math.Sqrt(float64(len(actual)))
}
