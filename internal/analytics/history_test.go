package analytics

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate(t *testing.T) {
	gen := NewGenerator()
	end := time.Date(2024, time.December, 31, 15, 30, 0, 0, time.UTC)
	series := gen.Generate("casablanca", 1e-7, 365, end, rand.New(rand.NewPCG(1, 2)))

	require.Len(t, series.Points, 366)
	assert.Equal(t, "casablanca", series.MarketID)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), series.Points[0].Date)
	assert.Equal(t, time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC), series.LastDate())
	require.NoError(t, series.Validate())

	seen := make(map[time.Time]bool, len(series.Points))
	for _, p := range series.Points {
		assert.False(t, seen[p.Date], "duplicate date %s", p.Date)
		seen[p.Date] = true
		assert.Greater(t, p.Price, 0.0)
		assert.GreaterOrEqual(t, p.Price, 1e-7*0.899)
		assert.LessOrEqual(t, p.Price, 1e-7*1.55)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	gen := NewGenerator()
	a := gen.Generate("rabat", 2e-7, 90, testEnd, rand.New(rand.NewPCG(42, 0)))
	b := gen.Generate("rabat", 2e-7, 90, testEnd, rand.New(rand.NewPCG(42, 0)))
	assert.Equal(t, a, b)
}

func TestGenerator_SeasonalMultiplier(t *testing.T) {
	gen := NewGenerator()
	tests := []struct {
		name string
		date time.Time
		want float64
	}{
		{"spring weekday", time.Date(2024, time.April, 3, 0, 0, 0, 0, time.UTC), 1.0},
		{"spring friday", time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC), 1.1},
		{"summer weekday", time.Date(2024, time.July, 2, 0, 0, 0, 0, time.UTC), 1.3},
		{"summer sunday", time.Date(2024, time.July, 7, 0, 0, 0, 0, time.UTC), 1.4},
		{"december thursday", time.Date(2024, time.December, 5, 0, 0, 0, 0, time.UTC), 1.2},
		{"december saturday", time.Date(2024, time.December, 7, 0, 0, 0, 0, time.UTC), 1.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, gen.seasonalMultiplier(tt.date), 1e-12)
		})
	}
}

func TestSyntheticSource_LoadHistory(t *testing.T) {
	src := NewSyntheticSource(42)
	markets := []MarketSpec{{ID: "fes", BasePrice: 1e-7}, {ID: "tangier", BasePrice: 2e-7}}

	forward, err := src.LoadHistory(context.Background(), markets, 30, testEnd)
	require.NoError(t, err)
	require.Len(t, forward, 2)
	assert.Equal(t, "fes", forward[0].MarketID)
	assert.Equal(t, "tangier", forward[1].MarketID)

	reversed, err := src.LoadHistory(context.Background(), []MarketSpec{markets[1], markets[0]}, 30, testEnd)
	require.NoError(t, err)
	assert.Equal(t, forward[0], reversed[1])
	assert.Equal(t, forward[1], reversed[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.LoadHistory(ctx, markets, 30, testEnd)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticSource_WithSeed(t *testing.T) {
	markets := []MarketSpec{{ID: "fes", BasePrice: 1e-7}}
	var src SeededSource = NewSyntheticSource(42)

	base, err := src.LoadHistory(context.Background(), markets, 30, testEnd)
	require.NoError(t, err)
	same, err := src.WithSeed(42).LoadHistory(context.Background(), markets, 30, testEnd)
	require.NoError(t, err)
	other, err := src.WithSeed(7).LoadHistory(context.Background(), markets, 30, testEnd)
	require.NoError(t, err)

	assert.Equal(t, base, same)
	assert.NotEqual(t, base[0].Prices(), other[0].Prices())
}

func TestPriceSeries_Validate(t *testing.T) {
	good := generatedSeries("a", 1, 10, 1)
	require.NoError(t, good.Validate())

	gap := PriceSeries{MarketID: "a", Points: append([]PricePoint{}, good.Points...)}
	gap.Points = append(gap.Points[:3], gap.Points[4:]...)
	assert.ErrorIs(t, gap.Validate(), ErrInvalidSeries)

	negative := PriceSeries{MarketID: "a", Points: append([]PricePoint{}, good.Points...)}
	negative.Points[2].Price = 0
	assert.ErrorIs(t, negative.Validate(), ErrInvalidSeries)
}
