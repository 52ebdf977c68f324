package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)

	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Empty(t, CalculateReturns(nil))
}

func TestCalculateCAGR(t *testing.T) {
	tests := []struct {
		name  string
		start float64
		end   float64
		years float64
		want  float64
	}{
		{"doubles in one year", 100, 200, 1, 1.0},
		{"doubles in two years", 100, 200, 2, math.Sqrt2 - 1},
		{"flat", 100, 100, 5, 0},
		{"zero start", 0, 200, 1, 0},
		{"zero years", 100, 200, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateCAGR(tt.start, tt.end, tt.years), 1e-9)
		})
	}
}

func TestCalculateMaxDrawdown(t *testing.T) {
	dd := CalculateMaxDrawdown([]float64{100, 120, 60, 90})
	require.NotNil(t, dd)
	assert.InDelta(t, 0.5, *dd, 1e-9)

	dd = CalculateMaxDrawdown([]float64{100, 110, 120})
	require.NotNil(t, dd)
	assert.InDelta(t, 0, *dd, 1e-9)

	assert.Nil(t, CalculateMaxDrawdown([]float64{100}))
}

func TestAnnualizedVolatility(t *testing.T) {
	flat := AnnualizedVolatility([]float64{0, 0, 0, 0})
	assert.InDelta(t, 0, flat, 1e-9)

	noisy := AnnualizedVolatility([]float64{0.01, -0.01, 0.02, -0.02})
	assert.Greater(t, noisy, 0.0)
}

func TestCalculateSharpeRatio(t *testing.T) {
	// Constant positive returns have zero dispersion: undefined Sharpe
	assert.Nil(t, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 252))

	sharpe := CalculateSharpeRatio([]float64{0.01, 0.02, -0.005, 0.015, 0.01}, 0, 252)
	require.NotNil(t, sharpe)
	assert.Greater(t, *sharpe, 0.0)

	assert.Nil(t, CalculateSharpeRatio(nil, 0, 252))
}

func TestDrawdownSellScore(t *testing.T) {
	// Missing metrics read as neutral
	assert.InDelta(t, 0.3, DrawdownSellScore(nil), 1e-9)

	shallow := &DrawdownMetrics{CurrentDrawdown: 0.05, DaysInDrawdown: 10}
	deep := &DrawdownMetrics{CurrentDrawdown: 0.40, DaysInDrawdown: 250}
	assert.Greater(t, DrawdownSellScore(deep), DrawdownSellScore(shallow))
	assert.InDelta(t, 1.0, DrawdownSellScore(deep), 1e-9)
}
