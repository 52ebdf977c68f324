package formulas

import (
	"github.com/markcheno/go-talib"
)

// TechnicalIndicators bundles the indicator inputs the sell scorer consumes.
type TechnicalIndicators struct {
	CurrentVolatility    float64 `json:"current_volatility"`    // Annualized, recent window
	HistoricalVolatility float64 `json:"historical_volatility"` // Annualized, full window
	DistanceFromMA200    float64 `json:"distance_from_ma200"`   // (price - SMA200) / SMA200
}

// CalculateRSI calculates the Relative Strength Index
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Returns the current RSI value (0-100) or nil if insufficient data.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)

	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

// DistanceFromSMA returns the fractional distance of the latest close from
// the N-period simple moving average, or nil if there is not enough history.
func DistanceFromSMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}

	sma := talib.Sma(closes, period)
	last := sma[len(sma)-1]
	if isNaN(last) || last == 0 {
		return nil
	}

	distance := (closes[len(closes)-1] - last) / last
	return &distance
}

// CalculateIndicators derives the sell-scorer indicator set from a close
// series. The recent volatility window is the last 30 sessions; the
// historical baseline uses the full series. Returns nil when the series is
// too short for a meaningful MA200 read.
func CalculateIndicators(closes []float64) *TechnicalIndicators {
	if len(closes) < 200 {
		return nil
	}

	returns := CalculateReturns(closes)

	recentWindow := 30
	if len(returns) < recentWindow {
		recentWindow = len(returns)
	}
	recent := returns[len(returns)-recentWindow:]

	dist := DistanceFromSMA(closes, 200)
	if dist == nil {
		return nil
	}

	return &TechnicalIndicators{
		CurrentVolatility:    AnnualizedVolatility(recent),
		HistoricalVolatility: AnnualizedVolatility(returns),
		DistanceFromMA200:    *dist,
	}
}

func isNaN(f float64) bool {
	return f != f
}
