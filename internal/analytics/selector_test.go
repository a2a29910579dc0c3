package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRegression() *RegressionForecaster {
	f := NewRegressionForecaster(42)
	f.Trees = 20
	return f
}

func TestModelSelector_PicksStatisticalOnWeeklyTrend(t *testing.T) {
	s := weeklyTrendSeries("m", 120)
	sel, err := NewModelSelector(fastRegression(), NewStatisticalForecaster()).Select(s)
	require.NoError(t, err)

	assert.Equal(t, ModelStatistical, sel.Winner)
	assert.Less(t, sel.Scores[ModelStatistical], 1e-6)
	assert.Greater(t, sel.Scores[ModelRegression], sel.Scores[ModelStatistical])
	assert.Equal(t, sel.Scores[ModelStatistical], sel.WinnerError)
}

func TestModelSelector_StatisticalFailureFallsToRegression(t *testing.T) {
	s := generatedSeries("m", 1e-7, 120, 1)
	failing := &stubForecaster{kind: ModelStatistical, failAbove: 0}

	sel, err := NewModelSelector(fastRegression(), failing).Select(s)
	require.NoError(t, err)
	assert.Equal(t, ModelRegression, sel.Winner)
	assert.True(t, math.IsInf(sel.Scores[ModelStatistical], 1))
	assert.False(t, math.IsInf(sel.WinnerError, 0))
	assert.GreaterOrEqual(t, sel.WinnerError, 0.0)
}

func TestModelSelector_TieGoesToRegression(t *testing.T) {
	s := generatedSeries("m", 1, 60, 1)
	reg := &stubForecaster{kind: ModelRegression, score: 0.25, failAbove: -1}
	stat := &stubForecaster{kind: ModelStatistical, score: 0.25, failAbove: -1}

	sel, err := NewModelSelector(reg, stat).Select(s)
	require.NoError(t, err)
	assert.Equal(t, ModelRegression, sel.Winner)

	stat.score = 0.2499
	sel, err = NewModelSelector(reg, stat).Select(s)
	require.NoError(t, err)
	assert.Equal(t, ModelStatistical, sel.Winner)
}

func TestModelSelector_HistoryBoundary(t *testing.T) {
	selector := NewModelSelector(fastRegression(), NewStatisticalForecaster())
	assert.Equal(t, 37, selector.MinHistory())

	_, err := selector.Select(generatedSeries("m", 1e-7, 35, 1))
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	sel, err := selector.Select(generatedSeries("m", 1e-7, 36, 1))
	require.NoError(t, err)
	assert.Equal(t, ModelRegression, sel.Winner)
	assert.True(t, math.IsInf(sel.Scores[ModelRegression], 1))
	assert.True(t, math.IsInf(sel.Scores[ModelStatistical], 1))
}

func TestModelSelector_HoldsOutTail(t *testing.T) {
	reg := &stubForecaster{kind: ModelRegression, failAbove: 50, score: 1}
	stat := &stubForecaster{kind: ModelStatistical, failAbove: -1, score: 2}
	sel, err := NewModelSelector(reg, stat).Select(generatedSeries("m", 1, 80, 1))
	require.NoError(t, err)

	// 81 points minus a 30-day window leaves 51 training points.
	assert.True(t, math.IsInf(sel.Scores[ModelRegression], 1))
	assert.Equal(t, ModelStatistical, sel.Winner)
}
