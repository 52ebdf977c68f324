package prices

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
)

func flatCloses(n int, value float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = value
	}
	return closes
}

func TestIsAnomalous(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	tests := []struct {
		name      string
		current   float64
		closes    []float64
		anomalous bool
	}{
		{"non-positive price", 0, flatCloses(30, 100), true},
		{"negative price", -5, flatCloses(30, 100), true},
		{"normal price", 101, flatCloses(30, 100), false},
		{"spike above median", 350, flatCloses(30, 100), true},
		{"crash below median", 25, flatCloses(30, 100), true},
		{"short history passes through", 400, flatCloses(10, 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomalous, reason := v.IsAnomalous(tt.current, tt.closes)
			assert.Equal(t, tt.anomalous, anomalous)
			if anomalous {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func barSeries(closes ...float64) []domain.PriceBar {
	bars := make([]domain.PriceBar, len(closes))
	for i, close := range closes {
		bars[i] = domain.PriceBar{
			Symbol: "TEST",
			Date:   fmt.Sprintf("2024-01-%02d", i+1),
			Open:   close, High: close, Low: close, Close: close,
		}
	}
	return bars
}

func TestCleanSeriesRepairsBadTick(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	// One bar doubles and immediately reverts
	bars := barSeries(100, 101, 210, 102, 103)
	cleaned := v.CleanSeries(bars)

	assert.InDelta(t, (101+102)/2.0, cleaned[2].Close, 1e-9)
	// Original slice untouched
	assert.Equal(t, 210.0, bars[2].Close)
}

func TestCleanSeriesRepairsNonPositiveClose(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	bars := barSeries(100, 0, 102)
	cleaned := v.CleanSeries(bars)

	assert.InDelta(t, 101.0, cleaned[1].Close, 1e-9)
	assert.Greater(t, cleaned[1].Low, 0.0)
}

func TestCleanSeriesKeepsRealMoves(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	// A sustained drop is market data, not corruption
	bars := barSeries(100, 98, 60, 58, 59)
	cleaned := v.CleanSeries(bars)

	for i := range bars {
		assert.Equal(t, bars[i].Close, cleaned[i].Close, "bar %d", i)
	}
}

func TestCleanSeriesShortSeriesUntouched(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	bars := barSeries(100, 0)
	cleaned := v.CleanSeries(bars)
	require.Len(t, cleaned, 2)
	assert.Equal(t, 0.0, cleaned[1].Close)
}
