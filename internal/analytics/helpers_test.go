package analytics

import (
	"math/rand/v2"
	"time"
)

var testEnd = time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)

// weeklyTrendSeries is an exact additive trend plus a weekly pattern.
func weeklyTrendSeries(id string, n int) PriceSeries {
	pattern := []float64{-3, -1, 0, 1, 2, 4, -3}
	start := testEnd.AddDate(0, 0, -(n - 1))
	points := make([]PricePoint, n)
	for i := range n {
		points[i] = PricePoint{
			Date:     start.AddDate(0, 0, i),
			MarketID: id,
			Price:    100 + 0.5*float64(i) + pattern[i%7],
		}
	}
	return PriceSeries{MarketID: id, Points: points}
}

func generatedSeries(id string, base float64, days int, stream uint64) PriceSeries {
	rng := rand.New(rand.NewPCG(7, stream))
	return NewGenerator().Generate(id, base, days, testEnd, rng)
}

func scaled(s PriceSeries, factor float64) PriceSeries {
	points := make([]PricePoint, len(s.Points))
	for i, p := range s.Points {
		p.Price *= factor
		points[i] = p
	}
	return PriceSeries{MarketID: s.MarketID, Points: points}
}

// stubForecaster returns a fixed score and projection, or fails to fit when
// the series is longer than failAbove.
type stubForecaster struct {
	kind      ModelKind
	score     float64
	value     float64
	failAbove int
	fits      int
}

func (s *stubForecaster) Kind() ModelKind { return s.kind }

func (s *stubForecaster) Fit(series PriceSeries) (TrainedModel, error) {
	s.fits++
	if s.failAbove >= 0 && series.Len() > s.failAbove {
		return nil, ErrStatisticalFit
	}
	return stubModel{score: s.score, value: s.value}, nil
}

type stubModel struct {
	score float64
	value float64
}

func (m stubModel) Validate(PriceSeries) (float64, error) { return m.score, nil }

func (m stubModel) Project(horizon int) ([]float64, error) {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = m.value
	}
	return out, nil
}
