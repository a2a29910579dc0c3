package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTrendLabeler_Label(t *testing.T) {
	tests := []struct {
		name     string
		history  []float64
		forecast []float64
		want     TrendDirection
	}{
		{"rising", flat(100, 30), flat(105, 30), TrendRising},
		{"falling", flat(100, 30), flat(95, 30), TrendFalling},
		{"within band", flat(100, 30), flat(101, 30), TrendStable},
		{"tiny prices", flat(1e-7, 30), flat(1.1e-7, 30), TrendRising},
		{"short forecast", flat(100, 30), flat(100, 3), ""},
		{"short history", flat(100, 3), flat(100, 30), ""},
	}
	labeler := NewTrendLabeler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labeler.Label(tt.history, tt.forecast))
		})
	}
}

func TestTrendLabeler_UsesFinalWeek(t *testing.T) {
	forecast := append(flat(50, 23), flat(100, 7)...)
	assert.Equal(t, TrendStable, NewTrendLabeler().Label(flat(100, 14), forecast))
}
