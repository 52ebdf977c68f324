// Package planning composes the allocation calculator, portfolio analyzer,
// and rebalance engine into one recommendation pipeline.
package planning

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/allocation"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/rebalancing"
)

// Planner is a thin facade over the planning pipeline. The asOf date is
// propagated end-to-end; a non-empty value disables every live cache.
type Planner struct {
	allocator *allocation.Calculator
	analyzer  *portfolio.Analyzer
	engine    *rebalancing.Engine
	log       zerolog.Logger
}

// NewPlanner creates a new planner
func NewPlanner(
	allocator *allocation.Calculator,
	analyzer *portfolio.Analyzer,
	engine *rebalancing.Engine,
	log zerolog.Logger,
) *Planner {
	return &Planner{
		allocator: allocator,
		analyzer:  analyzer,
		engine:    engine,
		log:       log.With().Str("service", "planner").Logger(),
	}
}

// GetRecommendations runs the full pipeline: ideal allocation → current
// state → rebalance derivation.
func (p *Planner) GetRecommendations(asOf string, minTradeValue *float64) ([]domain.Recommendation, error) {
	ideal, err := p.allocator.IdealAllocation(asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to compute ideal allocation: %w", err)
	}

	summary, err := p.analyzer.GetSummary()
	if err != nil {
		return nil, fmt.Errorf("failed to analyze portfolio: %w", err)
	}

	recommendations, err := p.engine.Plan(ideal, summary, asOf, minTradeValue)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recommendations: %w", err)
	}

	p.log.Debug().
		Int("recommendations", len(recommendations)).
		Str("as_of", asOf).
		Msg("Planning pass complete")
	return recommendations, nil
}

// IdealAllocation exposes the target weights for reports
func (p *Planner) IdealAllocation(asOf string) (map[string]float64, error) {
	return p.allocator.IdealAllocation(asOf)
}

// RebalanceSummary buckets current drift for operator-facing reports
func (p *Planner) RebalanceSummary() ([]portfolio.RebalanceSummaryRow, error) {
	ideal, err := p.allocator.IdealAllocation("")
	if err != nil {
		return nil, err
	}
	return p.analyzer.RebalanceSummary(ideal)
}
