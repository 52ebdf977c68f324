package scoring

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/pkg/formulas"
)

// Calculator derives buy-side scores from price history. The score is a
// [0,1] blend of trend, momentum, and risk-adjusted return; higher means a
// stronger case for holding capital in the security.
type Calculator struct {
	securities *universe.SecurityRepository
	prices     *prices.Repository
	scores     *Repository
	log        zerolog.Logger
}

// NewCalculator creates a new score calculator
func NewCalculator(
	securities *universe.SecurityRepository,
	priceRepo *prices.Repository,
	scores *Repository,
	log zerolog.Logger,
) *Calculator {
	return &Calculator{
		securities: securities,
		prices:     priceRepo,
		scores:     scores,
		log:        log.With().Str("service", "score_calculator").Logger(),
	}
}

// RunAll scores every active security. A symbol with too little history is
// skipped, never failed.
func (c *Calculator) RunAll() error {
	securities, err := c.securities.GetAllActive()
	if err != nil {
		return fmt.Errorf("failed to load securities: %w", err)
	}

	scored := 0
	for _, sec := range securities {
		closes, err := c.prices.GetCloses(sec.Symbol, 500)
		if err != nil {
			return err
		}
		score, components, ok := ComputeScore(closes)
		if !ok {
			c.log.Debug().Str("symbol", sec.Symbol).Int("bars", len(closes)).Msg("Insufficient history for scoring")
			continue
		}
		if err := c.scores.Create(sec.Symbol, score, components); err != nil {
			return err
		}
		scored++
	}

	c.log.Info().Int("scored", scored).Int("universe", len(securities)).Msg("Scoring pass complete")
	return nil
}

// ComputeScore derives a score from closing prices. Returns false when the
// series is too short to be meaningful.
func ComputeScore(closes []float64) (float64, map[string]float64, bool) {
	if len(closes) < 200 {
		return 0, nil, false
	}

	// Trend: distance from the 200-day moving average, mapped so prices
	// modestly above trend score best and deep breakdowns score worst.
	trendScore := 0.5
	if dist := formulas.DistanceFromSMA(closes, 200); dist != nil {
		switch {
		case *dist < -0.20:
			trendScore = 0.1
		case *dist < -0.05:
			trendScore = 0.35
		case *dist < 0.10:
			trendScore = 0.7
		case *dist < 0.25:
			trendScore = 0.55
		default:
			trendScore = 0.3
		}
	}

	// Momentum: RSI mapped toward the middle; oversold is an opportunity,
	// overbought a caution.
	momentumScore := 0.5
	if rsi := formulas.CalculateRSI(closes, 14); rsi != nil {
		switch {
		case *rsi < 30:
			momentumScore = 0.75
		case *rsi < 50:
			momentumScore = 0.6
		case *rsi < 70:
			momentumScore = 0.45
		default:
			momentumScore = 0.2
		}
	}

	// Risk-adjusted return over the last year of sessions
	year := closes
	if len(year) > 252 {
		year = year[len(year)-252:]
	}
	returns := formulas.CalculateReturns(year)
	riskScore := 0.5
	if len(returns) > 1 {
		vol := formulas.AnnualizedVolatility(returns)
		annualReturn := year[len(year)-1]/year[0] - 1
		if vol > 0 {
			sharpe := annualReturn / vol
			riskScore = clamp01(0.5 + sharpe/4)
		}
	}

	total := clamp01(trendScore*0.4 + momentumScore*0.25 + riskScore*0.35)
	components := map[string]float64{
		"trend":    round3(trendScore),
		"momentum": round3(momentumScore),
		"risk":     round3(riskScore),
	}
	return round3(total), components, true
}
