package scoring

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/pkg/formulas"
)

// SellAnalyzer assembles scorer inputs from the live portfolio and scores
// every open position.
type SellAnalyzer struct {
	securities *universe.SecurityRepository
	prices     *prices.Repository
	analyzer   *portfolio.Analyzer
	settings   *settings.Repository
	log        zerolog.Logger
}

// NewSellAnalyzer creates a new sell analyzer
func NewSellAnalyzer(
	securities *universe.SecurityRepository,
	priceRepo *prices.Repository,
	analyzer *portfolio.Analyzer,
	settingsRepo *settings.Repository,
	log zerolog.Logger,
) *SellAnalyzer {
	return &SellAnalyzer{
		securities: securities,
		prices:     priceRepo,
		analyzer:   analyzer,
		settings:   settingsRepo,
		log:        log.With().Str("service", "sell_analyzer").Logger(),
	}
}

// AnalyzeAll scores every open position. The scorer is rebuilt on each call
// so settings changes apply without a restart.
func (sa *SellAnalyzer) AnalyzeAll() ([]SellScore, error) {
	summary, err := sa.analyzer.GetSummary()
	if err != nil {
		return nil, fmt.Errorf("failed to analyze portfolio: %w", err)
	}

	scorer := NewSellScorer(
		sa.settings.GetInt(settings.KeyMinHoldDays),
		sa.settings.GetInt(settings.KeySellCooldownDays),
		sa.settings.GetFloat(settings.KeyMaxLossThreshold),
		sa.settings.GetFloat(settings.KeyMinSellValue),
		sa.log,
	)

	countryOver := overweights(summary.ByGeography)
	industryOver := overweights(summary.ByIndustry)

	results := make([]SellScore, 0, len(summary.Positions))
	for _, pv := range summary.Positions {
		ctx, err := sa.buildContext(pv, summary.TotalValueEUR, countryOver, industryOver)
		if err != nil {
			return nil, err
		}
		results = append(results, scorer.Score(ctx))
	}
	return results, nil
}

// buildContext gathers everything the scorer needs about one position
func (sa *SellAnalyzer) buildContext(
	pv portfolio.PositionValue,
	totalValueEUR float64,
	countryOver, industryOver map[string]float64,
) (SellContext, error) {
	pos := pv.Position

	ctx := SellContext{
		Symbol:             pos.Symbol,
		Quantity:           pos.Quantity,
		AvgCost:            pos.AverageCost,
		CurrentPrice:       pos.CurrentPrice,
		MinLot:             1,
		AllowSell:          true,
		PositionValueEUR:   pv.ValueEUR,
		TotalValueEUR:      totalValueEUR,
		CountryOverweight:  countryOver,
		IndustryOverweight: industryOver,
	}

	if pos.FirstBoughtAt != nil {
		t := time.Unix(*pos.FirstBoughtAt, 0)
		ctx.FirstBoughtAt = &t
	}
	if last := pos.LastTransactionAt(); last != nil {
		t := time.Unix(*last, 0)
		ctx.LastTransactionAt = &t
	}

	sec, err := sa.securities.GetBySymbol(pos.Symbol)
	if err != nil {
		return ctx, fmt.Errorf("failed to load security %s: %w", pos.Symbol, err)
	}
	if sec != nil {
		ctx.MinLot = sec.EffectiveMinLot()
		ctx.AllowSell = sec.AllowSell
		ctx.Countries = sec.Countries()
		ctx.Industries = sec.Industries()
	}

	closes, err := sa.prices.GetCloses(pos.Symbol, 500)
	if err != nil {
		return ctx, fmt.Errorf("failed to load closes for %s: %w", pos.Symbol, err)
	}
	ctx.Indicators = formulas.CalculateIndicators(closes)
	ctx.Drawdown = formulas.CalculateDrawdownMetrics(closes)

	return ctx, nil
}

// overweights maps each allocation name to current − target
func overweights(allocations []portfolio.Allocation) map[string]float64 {
	out := make(map[string]float64, len(allocations))
	for _, a := range allocations {
		out[a.Name] = a.Deviation
	}
	return out
}
