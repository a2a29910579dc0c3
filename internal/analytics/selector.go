package analytics

import (
	"errors"
	"fmt"
	"math"
)

// DefaultValidationDays is the size of the held-out window.
const DefaultValidationDays = 30

// Selection is the outcome of the held-out comparison for one market.
type Selection struct {
	Winner      ModelKind
	WinnerError float64
	Scores      map[ModelKind]float64
}

// ModelSelector holds out the tail of a series and keeps the candidate with
// the lowest RMSE on it. Candidates earlier in the list win ties.
type ModelSelector struct {
	ValidationDays int
	Candidates     []Forecaster
}

// NewModelSelector orders the candidates so that Regression wins ties.
func NewModelSelector(regression, statistical Forecaster) *ModelSelector {
	return &ModelSelector{
		ValidationDays: DefaultValidationDays,
		Candidates:     []Forecaster{regression, statistical},
	}
}

// MinHistory is the shortest series the selector accepts.
func (s *ModelSelector) MinHistory() int {
	return maxLag + s.validationDays()
}

func (s *ModelSelector) validationDays() int {
	if s.ValidationDays <= 0 {
		return DefaultValidationDays
	}
	return s.ValidationDays
}

// Select fits every candidate on the training part and scores it on the
// held-out window. A candidate that fails to fit or validate scores +Inf.
func (s *ModelSelector) Select(series PriceSeries) (Selection, error) {
	if len(s.Candidates) == 0 {
		return Selection{}, errors.New("no candidate forecasters")
	}
	if series.Len() < s.MinHistory() {
		return Selection{}, fmt.Errorf("%w: %s has %d points, need %d",
			ErrInsufficientHistory, series.MarketID, series.Len(), s.MinHistory())
	}

	split := series.Len() - s.validationDays()
	train, heldout := series.Slice(0, split), series.Slice(split, series.Len())

	sel := Selection{WinnerError: math.Inf(1), Scores: make(map[ModelKind]float64, len(s.Candidates))}
	for _, c := range s.Candidates {
		score := scoreCandidate(c, train, heldout)
		sel.Scores[c.Kind()] = score
		if sel.Winner == "" || score < sel.WinnerError {
			sel.Winner = c.Kind()
			sel.WinnerError = score
		}
	}
	return sel, nil
}

func scoreCandidate(c Forecaster, train, heldout PriceSeries) float64 {
	model, err := c.Fit(train)
	if err != nil {
		return math.Inf(1)
	}
	score, err := model.Validate(heldout)
	if err != nil || math.IsNaN(score) {
		return math.Inf(1)
	}
	return score
}
