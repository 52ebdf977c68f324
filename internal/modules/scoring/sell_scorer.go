package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/pkg/formulas"
)

// Component weights; normalized to sum 1.0
const (
	weightUnderperformance = 0.35
	weightTimeHeld         = 0.18
	weightPortfolioBalance = 0.18
	weightInstability      = 0.14
	weightDrawdown         = 0.15
)

// Sell sizing bounds
const (
	MinSellPct = 0.10
	MaxSellPct = 0.50
)

// Annual return target band; returns inside it score low
const (
	targetReturnMin = 0.08
	targetReturnMax = 0.15
)

// Volatility spike thresholds (current / historical sigma ratio)
const (
	volatilitySpikeLow  = 1.2
	volatilitySpikeMed  = 1.5
	volatilitySpikeHigh = 2.0
)

// Valuation stretch thresholds (distance above the 200-day MA)
const (
	valuationStretchLow  = 0.10
	valuationStretchMed  = 0.20
	valuationStretchHigh = 0.30
)

// SellContext is everything the scorer needs about one position. Allocation
// overweights are current − target per tag; multi-tag securities are split
// equally by the caller.
type SellContext struct {
	Symbol             string
	Quantity           float64
	AvgCost            float64
	CurrentPrice       float64
	MinLot             int
	AllowSell          bool
	FirstBoughtAt      *time.Time
	LastTransactionAt  *time.Time
	Countries          []string
	Industries         []string
	PositionValueEUR   float64
	TotalValueEUR      float64
	CountryOverweight  map[string]float64
	IndustryOverweight map[string]float64
	Indicators         *formulas.TechnicalIndicators
	Drawdown           *formulas.DrawdownMetrics
}

// SellScore is the verdict for one position
type SellScore struct {
	Symbol                string  `json:"symbol"`
	Eligible              bool    `json:"eligible"`
	BlockReason           *string `json:"block_reason,omitempty"`
	UnderperformanceScore float64 `json:"underperformance_score"`
	TimeHeldScore         float64 `json:"time_held_score"`
	PortfolioBalanceScore float64 `json:"portfolio_balance_score"`
	InstabilityScore      float64 `json:"instability_score"`
	DrawdownScore         float64 `json:"drawdown_score"`
	TotalScore            float64 `json:"total_score"`
	SuggestedSellPct      float64 `json:"suggested_sell_pct"`
	SuggestedSellQuantity float64 `json:"suggested_sell_quantity"`
	SuggestedSellValue    float64 `json:"suggested_sell_value"`
	ProfitPct             float64 `json:"profit_pct"`
	DaysHeld              int     `json:"days_held"`
}

// SellScorer produces sell verdicts under the configured guardrails
type SellScorer struct {
	minHoldDays      int
	sellCooldownDays int
	maxLossThreshold float64
	minSellValueEUR  float64
	log              zerolog.Logger
}

// NewSellScorer creates a sell scorer with explicit guardrail settings
func NewSellScorer(minHoldDays, sellCooldownDays int, maxLossThreshold, minSellValueEUR float64, log zerolog.Logger) *SellScorer {
	return &SellScorer{
		minHoldDays:      minHoldDays,
		sellCooldownDays: sellCooldownDays,
		maxLossThreshold: maxLossThreshold,
		minSellValueEUR:  minSellValueEUR,
		log:              log.With().Str("service", "sell_scorer").Logger(),
	}
}

// Score produces the verdict for one position
func (ss *SellScorer) Score(ctx SellContext) SellScore {
	profitPct := 0.0
	if ctx.AvgCost > 0 {
		profitPct = (ctx.CurrentPrice - ctx.AvgCost) / ctx.AvgCost
	}

	daysHeld := 365
	if ctx.FirstBoughtAt != nil {
		daysHeld = int(time.Since(*ctx.FirstBoughtAt).Hours() / 24)
	}

	if eligible, reason := ss.checkEligibility(ctx.AllowSell, profitPct, ctx.LastTransactionAt); !eligible {
		return SellScore{
			Symbol:      ctx.Symbol,
			Eligible:    false,
			BlockReason: reason,
			ProfitPct:   round4(profitPct),
			DaysHeld:    daysHeld,
		}
	}

	underperformance := ss.underperformanceScore(ctx.CurrentPrice, ctx.AvgCost, daysHeld)
	timeHeld := ss.timeHeldScore(ctx.FirstBoughtAt)
	balance := ss.portfolioBalanceScore(ctx)
	instability := instabilityScore(ctx.Indicators)
	drawdown := formulas.DrawdownSellScore(ctx.Drawdown)

	total := underperformance*weightUnderperformance +
		timeHeld*weightTimeHeld +
		balance*weightPortfolioBalance +
		instability*weightInstability +
		drawdown*weightDrawdown
	total = clamp01(total)

	priceEUR := ctx.CurrentPrice
	if ctx.Quantity > 0 && ctx.PositionValueEUR > 0 {
		priceEUR = ctx.PositionValueEUR / ctx.Quantity
	}
	sellQuantity, sellPct := ss.determineSellQuantity(total, ctx.Quantity, float64(ctx.MinLot), priceEUR)

	score := SellScore{
		Symbol:                ctx.Symbol,
		Eligible:              sellQuantity > 0,
		UnderperformanceScore: round3(underperformance),
		TimeHeldScore:         round3(timeHeld),
		PortfolioBalanceScore: round3(balance),
		InstabilityScore:      round3(instability),
		DrawdownScore:         round3(drawdown),
		TotalScore:            round3(total),
		SuggestedSellPct:      round3(sellPct),
		SuggestedSellQuantity: sellQuantity,
		SuggestedSellValue:    round3(sellQuantity * ctx.CurrentPrice),
		ProfitPct:             round4(profitPct),
		DaysHeld:              daysHeld,
	}
	if !score.Eligible {
		reason := "Below minimum sell value"
		score.BlockReason = &reason
	}
	return score
}

// checkEligibility applies the hard blocks. A loss of exactly the threshold
// does not block; the comparison is strict.
func (ss *SellScorer) checkEligibility(allowSell bool, profitPct float64, lastTransactionAt *time.Time) (bool, *string) {
	if !allowSell {
		reason := "Selling not allowed for this security"
		return false, &reason
	}

	if profitPct < ss.maxLossThreshold {
		reason := fmt.Sprintf("Loss %.1f%% exceeds maximum loss threshold %.0f%%",
			-profitPct*100, -ss.maxLossThreshold*100)
		return false, &reason
	}

	if lastTransactionAt != nil {
		daysSince := int(time.Since(*lastTransactionAt).Hours() / 24)
		if daysSince < ss.minHoldDays {
			reason := fmt.Sprintf("Held %d days, minimum is %d", daysSince, ss.minHoldDays)
			return false, &reason
		}
		if daysSince < ss.sellCooldownDays {
			reason := fmt.Sprintf("Sell cooldown active (%d of %d days)", daysSince, ss.sellCooldownDays)
			return false, &reason
		}
	}

	return true, nil
}

// underperformanceScore compares the annualized return against the target
// band. Mild underperformance scores high; in-band returns score low;
// windfalls above the band score moderate as trim candidates.
func (ss *SellScorer) underperformanceScore(currentPrice, avgCost float64, daysHeld int) float64 {
	if avgCost <= 0 || daysHeld <= 0 {
		return 0.5
	}

	profitPct := (currentPrice - avgCost) / avgCost
	yearsHeld := float64(daysHeld) / 365.0

	annualized := profitPct
	if yearsHeld >= 0.25 {
		annualized = math.Pow(currentPrice/avgCost, 1/yearsHeld) - 1
	}

	switch {
	case profitPct < ss.maxLossThreshold:
		return 0.0
	case annualized < -0.05:
		return 0.9
	case annualized < 0:
		return 0.7
	case annualized < targetReturnMin:
		return 0.5
	case annualized <= targetReturnMax:
		return 0.1
	default:
		return 0.3
	}
}

// timeHeldScore steps with holding time; long stale holds score highest
func (ss *SellScorer) timeHeldScore(firstBoughtAt *time.Time) float64 {
	if firstBoughtAt == nil {
		return 0.6
	}

	daysHeld := int(time.Since(*firstBoughtAt).Hours() / 24)
	switch {
	case daysHeld < ss.minHoldDays:
		return 0.0
	case daysHeld < 365:
		return 0.4
	case daysHeld < 730:
		return 0.7
	default:
		return 1.0
	}
}

// portfolioBalanceScore is the mean of country and industry overweights,
// mapped to [0,1], plus a concentration bump above 10% of portfolio.
func (ss *SellScorer) portfolioBalanceScore(ctx SellContext) float64 {
	if ctx.TotalValueEUR <= 0 {
		return 0.5
	}

	overweights := make([]float64, 0, 2)
	if ow, ok := averageOverweight(ctx.Countries, ctx.CountryOverweight); ok {
		overweights = append(overweights, ow)
	}
	if ow, ok := averageOverweight(ctx.Industries, ctx.IndustryOverweight); ok {
		overweights = append(overweights, ow)
	}

	score := 0.5
	if len(overweights) > 0 {
		mean := 0.0
		for _, ow := range overweights {
			mean += ow
		}
		mean /= float64(len(overweights))
		// ±20% overweight maps to the full score range
		score = clamp01(0.5 + mean*2.5)
	}

	if positionPct := ctx.PositionValueEUR / ctx.TotalValueEUR; positionPct > 0.10 {
		score = clamp01(score + 0.2)
	}
	return score
}

func averageOverweight(tags []string, overweights map[string]float64) (float64, bool) {
	if len(tags) == 0 || overweights == nil {
		return 0, false
	}
	sum := 0.0
	for _, tag := range tags {
		sum += overweights[tag]
	}
	return sum / float64(len(tags)), true
}

// instabilityScore detects unsustainable conditions from technical
// indicators. Missing indicators return the neutral 0.3.
func instabilityScore(ind *formulas.TechnicalIndicators) float64 {
	if ind == nil {
		return 0.3
	}

	volScore := 0.3
	if ind.HistoricalVolatility > 0 {
		ratio := ind.CurrentVolatility / ind.HistoricalVolatility
		switch {
		case ratio > volatilitySpikeHigh:
			volScore = 1.0
		case ratio > volatilitySpikeMed:
			volScore = 0.7
		case ratio > volatilitySpikeLow:
			volScore = 0.4
		default:
			volScore = 0.1
		}
	}

	valuationScore := 0.1
	switch {
	case ind.DistanceFromMA200 > valuationStretchHigh:
		valuationScore = 1.0
	case ind.DistanceFromMA200 > valuationStretchMed:
		valuationScore = 0.7
	case ind.DistanceFromMA200 > valuationStretchLow:
		valuationScore = 0.4
	}

	return volScore*0.6 + valuationScore*0.4
}

// determineSellQuantity maps the total score onto a sell percentage, rounds
// down to whole lots, and never liquidates the final lot.
func (ss *SellScorer) determineSellQuantity(totalScore, quantity, minLot, priceEUR float64) (float64, float64) {
	sellPct := math.Max(MinSellPct, math.Min(MaxSellPct, MinSellPct+totalScore*(MaxSellPct-MinSellPct)))

	sellQuantity := roundToLots(quantity*sellPct, minLot)

	maxSell := quantity - minLot
	if sellQuantity > maxSell {
		sellQuantity = roundToLots(maxSell, minLot)
	}

	if sellQuantity < minLot {
		return 0, 0
	}
	if sellQuantity*priceEUR < ss.minSellValueEUR {
		return 0, 0
	}

	if quantity == 0 {
		return sellQuantity, 0
	}
	return sellQuantity, sellQuantity / quantity
}

func roundToLots(quantity, lotSize float64) float64 {
	if lotSize <= 0 {
		return quantity
	}
	return math.Floor(quantity/lotSize) * lotSize
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
