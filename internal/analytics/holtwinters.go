package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// DefaultSeasonalPeriod is the weekly cycle of daily prices.
const DefaultSeasonalPeriod = 7

// HoltWinters is an additive-trend, additive-season exponential smoothing model.
type HoltWinters struct {
	Period int

	alpha, beta, gamma float64
	scale              float64
	level, trend       float64
	seasonals          []float64
	n                  int
	sse                float64
}

// NewHoltWinters returns an unfitted model with the given seasonal period.
func NewHoltWinters(period int) *HoltWinters {
	return &HoltWinters{Period: period}
}

// Params returns the fitted smoothing parameters.
func (hw *HoltWinters) Params() (alpha, beta, gamma float64) {
	return hw.alpha, hw.beta, hw.gamma
}

// Fit estimates the smoothing parameters and final state from y.
func (hw *HoltWinters) Fit(y []float64) error {
	m := hw.Period
	if m < 2 {
		return fmt.Errorf("%w: seasonal period %d", ErrStatisticalFit, m)
	}
	if len(y) < 2*m {
		return fmt.Errorf("%w: need at least %d observations, got %d", ErrStatisticalFit, 2*m, len(y))
	}

	abs := make([]float64, len(y))
	for i, v := range y {
		abs[i] = math.Abs(v)
	}
	scale := floats.Sum(abs) / float64(len(y))
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("%w: series scale %v", ErrStatisticalFit, scale)
	}
	z := make([]float64, len(y))
	floats.ScaleTo(z, 1/scale, y)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			st := newHWState(z, m)
			return st.run(z, logistic(x[0]), logistic(x[1]), logistic(x[2]))
		},
	}
	start := []float64{logit(0.3), logit(0.1), logit(0.1)}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 100,
		},
	}
	res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if res == nil {
		return fmt.Errorf("%w: optimizer: %v", ErrStatisticalFit, err)
	}
	if err != nil && res.Status != optimize.IterationLimit && res.Status != optimize.FunctionEvaluationLimit {
		return fmt.Errorf("%w: optimizer: %v", ErrStatisticalFit, err)
	}

	alpha, beta, gamma := logistic(res.X[0]), logistic(res.X[1]), logistic(res.X[2])
	st := newHWState(z, m)
	sse := st.run(z, alpha, beta, gamma)
	for _, v := range []float64{alpha, beta, gamma, sse, st.level, st.trend} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite fitted state", ErrStatisticalFit)
		}
	}

	hw.alpha, hw.beta, hw.gamma = alpha, beta, gamma
	hw.scale = scale
	hw.level, hw.trend = st.level, st.trend
	hw.seasonals = st.seasonals
	hw.n = len(y)
	hw.sse = sse * scale * scale
	return nil
}

// Forecast projects h steps past the end of the fitted series.
func (hw *HoltWinters) Forecast(h int) ([]float64, error) {
	if hw.seasonals == nil {
		return nil, fmt.Errorf("%w: model is not fitted", ErrStatisticalFit)
	}
	out := make([]float64, h)
	m := hw.Period
	for i := 1; i <= h; i++ {
		s := hw.seasonals[(hw.n-1+i)%m]
		out[i-1] = (hw.level + float64(i)*hw.trend + s) * hw.scale
	}
	return out, nil
}

type hwState struct {
	level, trend float64
	seasonals    []float64
}

// newHWState initializes from the first two seasons: the level is the first
// season's mean carried to its last index, the trend is the per-step change
// between season means, and seasonals are the detrended first-season residuals.
func newHWState(z []float64, m int) *hwState {
	first := floats.Sum(z[:m]) / float64(m)
	second := floats.Sum(z[m:2*m]) / float64(m)
	b0 := (second - first) / float64(m)
	center := float64(m-1) / 2

	seasonals := make([]float64, m)
	for i := range m {
		seasonals[i] = z[i] - (first + (float64(i)-center)*b0)
	}
	return &hwState{
		level:     first + center*b0,
		trend:     b0,
		seasonals: seasonals,
	}
}

// run smooths z from index m onward and returns the one-step-ahead SSE.
func (st *hwState) run(z []float64, alpha, beta, gamma float64) float64 {
	m := len(st.seasonals)
	var sse float64
	for t := m; t < len(z); t++ {
		k := t % m
		pred := st.level + st.trend + st.seasonals[k]
		e := z[t] - pred
		sse += e * e

		prevLevel := st.level
		st.level = alpha*(z[t]-st.seasonals[k]) + (1-alpha)*(prevLevel+st.trend)
		st.trend = beta*(st.level-prevLevel) + (1-beta)*st.trend
		st.seasonals[k] = gamma*(z[t]-st.level) + (1-gamma)*st.seasonals[k]
	}
	return sse
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}
