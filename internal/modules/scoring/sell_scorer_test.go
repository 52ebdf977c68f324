package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer() *SellScorer {
	return NewSellScorer(90, 180, -0.20, 25, zerolog.Nop())
}

func daysAgo(n int) *time.Time {
	t := time.Now().AddDate(0, 0, -n)
	return &t
}

func baseContext() SellContext {
	return SellContext{
		Symbol:            "AAPL",
		Quantity:          100,
		AvgCost:           100,
		CurrentPrice:      130,
		MinLot:            1,
		AllowSell:         true,
		FirstBoughtAt:     daysAgo(365),
		LastTransactionAt: daysAgo(365),
		PositionValueEUR:  13000,
		TotalValueEUR:     100000,
	}
}

func TestSellBlockedByLoss(t *testing.T) {
	ctx := baseContext()
	ctx.CurrentPrice = 70

	score := newTestScorer().Score(ctx)

	assert.False(t, score.Eligible)
	require.NotNil(t, score.BlockReason)
	assert.Contains(t, *score.BlockReason, "Loss 30.0%")
	assert.Contains(t, *score.BlockReason, "20%")
}

func TestSellLossExactlyAtThresholdAllowed(t *testing.T) {
	ctx := baseContext()
	ctx.CurrentPrice = 80 // exactly −20%; the comparison is strict

	score := newTestScorer().Score(ctx)
	if !score.Eligible {
		require.NotNil(t, score.BlockReason)
		assert.NotContains(t, *score.BlockReason, "Loss")
	}
}

func TestSellEligibleProfit(t *testing.T) {
	ctx := baseContext()

	score := newTestScorer().Score(ctx)

	assert.True(t, score.Eligible)
	assert.Nil(t, score.BlockReason)
	assert.Greater(t, score.TotalScore, 0.0)
	assert.LessOrEqual(t, score.TotalScore, 1.0)
	assert.GreaterOrEqual(t, score.SuggestedSellPct, MinSellPct)
	assert.LessOrEqual(t, score.SuggestedSellPct, MaxSellPct)
	assert.Zero(t, int64(score.SuggestedSellQuantity)%int64(ctx.MinLot))
	assert.LessOrEqual(t, score.SuggestedSellQuantity, ctx.Quantity-float64(ctx.MinLot))
	assert.InDelta(t, 0.30, score.ProfitPct, 1e-9)
}

func TestSellHardBlocks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SellContext)
		reason string
	}{
		{
			name:   "selling disabled",
			mutate: func(c *SellContext) { c.AllowSell = false },
			reason: "Selling not allowed",
		},
		{
			name:   "loss beyond threshold",
			mutate: func(c *SellContext) { c.CurrentPrice = 60 },
			reason: "maximum loss threshold",
		},
		{
			name: "held under minimum",
			mutate: func(c *SellContext) {
				c.FirstBoughtAt = daysAgo(30)
				c.LastTransactionAt = daysAgo(30)
			},
			reason: "minimum is 90",
		},
		{
			name:   "sell cooldown active",
			mutate: func(c *SellContext) { c.LastTransactionAt = daysAgo(120) },
			reason: "cooldown",
		},
		{
			name: "below minimum sell value",
			mutate: func(c *SellContext) {
				c.Quantity = 10
				c.PositionValueEUR = 100 // 10 EUR per share; 10% sell is 10 EUR < 25
			},
			reason: "Below minimum sell value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := baseContext()
			tt.mutate(&ctx)

			score := newTestScorer().Score(ctx)

			assert.False(t, score.Eligible)
			require.NotNil(t, score.BlockReason)
			assert.Contains(t, *score.BlockReason, tt.reason)
		})
	}
}

func TestSellNeverLiquidatesFinalLot(t *testing.T) {
	scorer := newTestScorer()

	for _, quantity := range []float64{2, 3, 5, 10, 100} {
		ctx := baseContext()
		ctx.Quantity = quantity
		ctx.PositionValueEUR = quantity * 130

		score := scorer.Score(ctx)
		if score.Eligible {
			assert.LessOrEqual(t, score.SuggestedSellQuantity, quantity-1,
				"quantity %.0f", quantity)
			assert.GreaterOrEqual(t, score.SuggestedSellQuantity, 1.0)
		}
	}
}

func TestSellQuantityRespectsLots(t *testing.T) {
	ctx := baseContext()
	ctx.MinLot = 10
	ctx.Quantity = 100

	score := newTestScorer().Score(ctx)
	require.True(t, score.Eligible)
	assert.Zero(t, int64(score.SuggestedSellQuantity)%10)
	assert.LessOrEqual(t, score.SuggestedSellQuantity, 90.0)
}

func TestConcentrationRaisesBalanceScore(t *testing.T) {
	scorer := newTestScorer()

	small := baseContext()
	small.PositionValueEUR = 5000 // 5% of portfolio

	large := baseContext()
	large.PositionValueEUR = 15000 // 15% of portfolio

	assert.Greater(t,
		scorer.Score(large).PortfolioBalanceScore,
		scorer.Score(small).PortfolioBalanceScore)
}

func TestOverweightRaisesBalanceScore(t *testing.T) {
	scorer := newTestScorer()

	neutral := baseContext()
	neutral.Countries = []string{"US"}
	neutral.CountryOverweight = map[string]float64{"US": 0}

	overweight := baseContext()
	overweight.Countries = []string{"US"}
	overweight.CountryOverweight = map[string]float64{"US": 0.15}

	assert.Greater(t,
		scorer.Score(overweight).PortfolioBalanceScore,
		scorer.Score(neutral).PortfolioBalanceScore)
}
