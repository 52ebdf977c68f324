package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/modules/universe"
)

// TargetSource supplies normalized allocation targets per kind
// ("geography" or "industry"). Weights sum to 1 per kind; a kind whose raw
// weights sum to zero returns an empty map.
type TargetSource interface {
	GetNormalized(kind string) (map[string]float64, error)
}

// Analyzer answers current-state portfolio questions
type Analyzer struct {
	positions  *PositionRepository
	cash       *CashRepository
	securities *universe.SecurityRepository
	targets    TargetSource
	currency   Converter
	log        zerolog.Logger
}

// NewAnalyzer creates a new portfolio analyzer
func NewAnalyzer(
	positions *PositionRepository,
	cash *CashRepository,
	securities *universe.SecurityRepository,
	targets TargetSource,
	currency Converter,
	log zerolog.Logger,
) *Analyzer {
	return &Analyzer{
		positions:  positions,
		cash:       cash,
		securities: securities,
		targets:    targets,
		currency:   currency,
		log:        log.With().Str("service", "portfolio_analyzer").Logger(),
	}
}

// GetSummary builds the full current-state view
func (a *Analyzer) GetSummary() (*Summary, error) {
	positions, err := a.positions.GetActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	balances, err := a.cash.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load cash balances: %w", err)
	}

	cashEUR := 0.0
	for ccy, amount := range balances {
		cashEUR += a.currency.ToEUR(amount, ccy)
	}

	summary := &Summary{
		CashEUR:        cashEUR,
		CashByCurrency: balances,
		BySymbol:       make(map[string]float64),
	}

	for _, p := range positions {
		local, eur := Value(p.Quantity, p.CurrentPrice, p.Currency, a.currency)
		summary.Positions = append(summary.Positions, PositionValue{
			Position:   p,
			ValueLocal: local,
			ValueEUR:   eur,
		})
		summary.PositionsValueEUR += eur
	}
	summary.TotalValueEUR = summary.PositionsValueEUR + cashEUR

	for i := range summary.Positions {
		pct := AllocationPct(summary.Positions[i].ValueEUR, summary.TotalValueEUR)
		summary.Positions[i].AllocationPct = pct
		summary.BySymbol[summary.Positions[i].Symbol] = pct
	}

	securities, err := a.securities.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load securities: %w", err)
	}
	secMap := make(map[string]universe.Security, len(securities))
	for _, s := range securities {
		secMap[s.Symbol] = s
	}

	summary.ByGeography, err = a.breakdown("geography", summary, secMap)
	if err != nil {
		return nil, err
	}
	summary.ByIndustry, err = a.breakdown("industry", summary, secMap)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// breakdown aggregates position values by tag, splitting multi-tag
// securities equally across their tags.
func (a *Analyzer) breakdown(kind string, summary *Summary, secMap map[string]universe.Security) ([]Allocation, error) {
	targets, err := a.targets.GetNormalized(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s targets: %w", kind, err)
	}

	values := make(map[string]float64)
	for _, pv := range summary.Positions {
		sec, ok := secMap[pv.Symbol]
		if !ok {
			continue
		}
		var tags []string
		if kind == "geography" {
			tags = sec.Countries()
		} else {
			tags = sec.Industries()
		}
		if len(tags) == 0 {
			continue
		}
		share := pv.ValueEUR / float64(len(tags))
		for _, tag := range tags {
			values[tag] += share
		}
	}

	names := make(map[string]bool)
	for name := range values {
		names[name] = true
	}
	for name := range targets {
		names[name] = true
	}

	allocations := make([]Allocation, 0, len(names))
	for name := range names {
		current := AllocationPct(values[name], summary.TotalValueEUR)
		target := targets[name]
		allocations = append(allocations, Allocation{
			Name:       name,
			ValueEUR:   values[name],
			CurrentPct: current,
			TargetPct:  target,
			Deviation:  current - target,
		})
	}
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].ValueEUR > allocations[j].ValueEUR
	})
	return allocations, nil
}

// RebalanceSummary buckets each symbol by its drift from the ideal weight.
// Informational only; the rebalance engine applies its own thresholds.
func (a *Analyzer) RebalanceSummary(ideal map[string]float64) ([]RebalanceSummaryRow, error) {
	summary, err := a.GetSummary()
	if err != nil {
		return nil, err
	}

	symbols := make(map[string]bool)
	for symbol := range summary.BySymbol {
		symbols[symbol] = true
	}
	for symbol := range ideal {
		symbols[symbol] = true
	}

	rows := make([]RebalanceSummaryRow, 0, len(symbols))
	for symbol := range symbols {
		current := summary.BySymbol[symbol]
		target := ideal[symbol]
		deviation := current - target

		bucket := BucketAligned
		switch {
		case math.Abs(deviation) >= 0.10:
			bucket = BucketRebalance
		case math.Abs(deviation) >= 0.05:
			bucket = BucketMinorDrift
		}

		rows = append(rows, RebalanceSummaryRow{
			Symbol:     symbol,
			CurrentPct: current,
			TargetPct:  target,
			Deviation:  deviation,
			Bucket:     bucket,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return math.Abs(rows[i].Deviation) > math.Abs(rows[j].Deviation)
	})
	return rows, nil
}
