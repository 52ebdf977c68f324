// Package rebalancing turns the gap between ideal and current allocations
// into lot-valid, cash-feasible, cooldown-respecting trade recommendations.
package rebalancing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/cache"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/trading"
	"github.com/aristath/sentinel/internal/modules/universe"
)

const (
	// Allocation gaps below this fraction are noise, not trades
	minDeltaThreshold = 0.0001

	// EUR buffer added on top of negative balances when sizing deficit sells
	deficitBufferEUR = 10.0

	// Deficit sells bypass score-driven prioritization entirely
	deficitPriority = 1000.0

	recommendationCacheTTL = 5 * time.Minute

	// Safety bound on the one-lot top-up loop
	maxTopUpIterations = 1000
)

// Converter is the currency surface the engine needs
type Converter interface {
	Rate(ccy string) float64
	ToEUR(amount float64, ccy string) float64
	FromEUR(amount float64, ccy string) float64
}

// Engine derives trade recommendations
type Engine struct {
	securities *universe.SecurityRepository
	trades     *trading.Repository
	prices     *prices.Repository
	validator  *prices.Validator
	scores     *scoring.Repository
	currency   Converter
	settings   *settings.Repository
	cache      *cache.Repository
	log        zerolog.Logger
}

// NewEngine creates a new rebalance engine
func NewEngine(
	securities *universe.SecurityRepository,
	trades *trading.Repository,
	priceRepo *prices.Repository,
	validator *prices.Validator,
	scores *scoring.Repository,
	currency Converter,
	settingsRepo *settings.Repository,
	cacheRepo *cache.Repository,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		securities: securities,
		trades:     trades,
		prices:     priceRepo,
		validator:  validator,
		scores:     scores,
		currency:   currency,
		settings:   settingsRepo,
		cache:      cacheRepo,
		log:        log.With().Str("service", "rebalancing").Logger(),
	}
}

// Plan derives recommendations from the ideal weights and the current
// portfolio summary. A non-empty asOf scopes price reads and disables the
// cache; minTradeValue overrides the configured minimum when non-nil.
func (e *Engine) Plan(ideal map[string]float64, summary *portfolio.Summary, asOf string, minTradeValue *float64) ([]domain.Recommendation, error) {
	minValue := e.settings.GetFloat(settings.KeyMinTradeValue)
	if minTradeValue != nil {
		minValue = *minTradeValue
	}

	live := asOf == ""
	cacheKey := fmt.Sprintf("rebalance:recommendations:%.2f", minValue)
	if live && e.cache != nil {
		var cached []domain.Recommendation
		if ok, _ := e.cache.Get(cacheKey, &cached); ok {
			return cached, nil
		}
	}

	securities, err := e.securities.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load securities: %w", err)
	}
	secMap := make(map[string]universe.Security, len(securities))
	for _, s := range securities {
		secMap[s.Symbol] = s
	}

	posMap := make(map[string]portfolio.PositionValue, len(summary.Positions))
	for _, pv := range summary.Positions {
		posMap[pv.Symbol] = pv
	}

	latestScores, err := e.scores.GetLatestAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}

	deficitSells := e.deficitSells(summary, secMap, posMap, latestScores)
	deficitSymbols := make(map[string]bool, len(deficitSells))
	for _, rec := range deficitSells {
		deficitSymbols[rec.Symbol] = true
	}

	var sells, buys []domain.Recommendation
	for symbol := range unionSymbols(ideal, posMap) {
		if deficitSymbols[symbol] {
			continue
		}
		sec, ok := secMap[symbol]
		if !ok {
			continue
		}
		rec := e.deriveOne(symbol, sec, ideal[symbol], summary, posMap, latestScores, asOf, minValue)
		if rec == nil {
			continue
		}
		if rec.Action == "SELL" {
			sells = append(sells, *rec)
		} else {
			buys = append(buys, *rec)
		}
	}

	sells = append(deficitSells, sells...)
	buys = e.applyCashConstraint(buys, sells, summary, secMap)

	sort.Slice(buys, func(i, j int) bool { return buys[i].Priority > buys[j].Priority })
	sort.Slice(sells, func(i, j int) bool { return sells[i].Priority > sells[j].Priority })

	recommendations := append(sells, buys...)

	if live && e.cache != nil {
		if cerr := e.cache.Set(cacheKey, recommendations, recommendationCacheTTL); cerr != nil {
			e.log.Warn().Err(cerr).Msg("Failed to cache recommendations")
		}
	}
	return recommendations, nil
}

func unionSymbols(ideal map[string]float64, positions map[string]portfolio.PositionValue) map[string]bool {
	symbols := make(map[string]bool, len(ideal)+len(positions))
	for s := range ideal {
		symbols[s] = true
	}
	for s := range positions {
		symbols[s] = true
	}
	return symbols
}

// deriveOne runs the per-symbol derivation; nil means no trade
func (e *Engine) deriveOne(
	symbol string,
	sec universe.Security,
	target float64,
	summary *portfolio.Summary,
	posMap map[string]portfolio.PositionValue,
	latestScores map[string]scoring.Score,
	asOf string,
	minValue float64,
) *domain.Recommendation {
	current := summary.BySymbol[symbol]
	delta := target - current
	if math.Abs(delta) < minDeltaThreshold {
		return nil
	}

	pv, held := posMap[symbol]

	price := 0.0
	if held && pv.CurrentPrice > 0 {
		price = pv.CurrentPrice
	} else {
		date := asOf
		if date == "" {
			date = domain.DateOnly(time.Now())
		}
		close, err := e.prices.GetCloseOnOrBefore(symbol, date)
		if err != nil || close == nil || *close <= 0 {
			return nil
		}
		price = *close
	}

	side := domain.TradeSideBuy
	if delta < 0 {
		side = domain.TradeSideSell
	}
	if side.IsBuy() && !sec.AllowBuy {
		return nil
	}
	if side.IsSell() && !sec.AllowSell {
		return nil
	}

	deltaEUR := delta * summary.TotalValueEUR
	deltaLocal := e.currency.FromEUR(math.Abs(deltaEUR), sec.Currency)

	lot := float64(sec.EffectiveMinLot())
	quantity := math.Floor(deltaLocal/price/lot) * lot
	if side.IsSell() && quantity > pv.Quantity {
		quantity = math.Floor(pv.Quantity/lot) * lot
	}
	if quantity < lot {
		return nil
	}

	valueEUR := e.currency.ToEUR(quantity*price, sec.Currency)
	if valueEUR < minValue {
		return nil
	}

	cooloffDays := e.settings.GetInt(settings.KeyTradeCooloffDays)
	inCooldown, err := e.trades.InCooldown(symbol, side, cooloffDays, e.nowFor(asOf))
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("Cooldown check failed, skipping")
		return nil
	}
	if inCooldown {
		return nil
	}

	if e.validator != nil {
		closes, err := e.closesAsOf(symbol, asOf)
		if err == nil {
			if anomalous, reason := e.validator.IsAnomalous(price, closes); anomalous {
				e.log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Price anomaly, skipping")
				return nil
			}
		}
	}

	expectedReturn := 0.0
	if s, ok := latestScores[symbol]; ok {
		expectedReturn = s.Score
	}

	priority := math.Abs(delta) * 10
	if side.IsBuy() {
		priority += expectedReturn
	} else {
		priority -= expectedReturn
	}

	return &domain.Recommendation{
		Symbol:            symbol,
		Action:            side,
		CurrentAllocation: current,
		TargetAllocation:  target,
		ValueDeltaEUR:     deltaEUR,
		Quantity:          quantity,
		Price:             price,
		Currency:          sec.Currency,
		LotSize:           sec.EffectiveMinLot(),
		ExpectedReturn:    expectedReturn,
		Priority:          priority,
		Reason:            tradeReason(side, delta, expectedReturn),
		Sleeve:            "core",
	}
}

func (e *Engine) nowFor(asOf string) time.Time {
	if asOf == "" {
		return time.Now()
	}
	if t, err := time.Parse("2006-01-02", asOf); err == nil {
		return t
	}
	return time.Now()
}

func (e *Engine) closesAsOf(symbol, asOf string) ([]float64, error) {
	bars, err := e.prices.GetHistoryAsOf(symbol, asOf, 60)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes, nil
}

func tradeReason(side domain.TradeSide, delta, expectedReturn float64) string {
	gap := math.Abs(delta) * 100
	if side.IsBuy() {
		if expectedReturn >= 0.7 {
			return fmt.Sprintf("Underweight %.1f%%, strong outlook", gap)
		}
		return fmt.Sprintf("Underweight %.1f%%", gap)
	}
	if expectedReturn <= 0.3 {
		return fmt.Sprintf("Overweight %.1f%%, weak outlook", gap)
	}
	return fmt.Sprintf("Overweight %.1f%%", gap)
}

// deficitSells generates solvency sells when positive cash cannot cover the
// negative balances plus a small buffer. They bypass score-driven logic.
func (e *Engine) deficitSells(
	summary *portfolio.Summary,
	secMap map[string]universe.Security,
	posMap map[string]portfolio.PositionValue,
	latestScores map[string]scoring.Score,
) []domain.Recommendation {
	deficitEUR := 0.0
	positiveEUR := 0.0
	for ccy, amount := range summary.CashByCurrency {
		eur := e.currency.ToEUR(amount, ccy)
		if eur < 0 {
			deficitEUR += -eur
		} else {
			positiveEUR += eur
		}
	}
	if deficitEUR == 0 {
		return nil
	}
	deficitEUR += deficitBufferEUR
	if positiveEUR >= deficitEUR {
		return nil
	}
	remaining := deficitEUR - positiveEUR

	// Sell lowest-scored, smallest positions first
	type candidate struct {
		pv    portfolio.PositionValue
		score float64
	}
	var candidates []candidate
	for _, pv := range posMap {
		sec, ok := secMap[pv.Symbol]
		if !ok || !sec.AllowSell || pv.Quantity <= 0 || pv.CurrentPrice <= 0 {
			continue
		}
		score := 0.5
		if s, ok := latestScores[pv.Symbol]; ok {
			score = s.Score
		}
		candidates = append(candidates, candidate{pv: pv, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].pv.ValueEUR < candidates[j].pv.ValueEUR
	})

	var sells []domain.Recommendation
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		sec := secMap[c.pv.Symbol]
		lot := float64(sec.EffectiveMinLot())

		neededLocal := e.currency.FromEUR(remaining, sec.Currency)
		quantity := math.Ceil(neededLocal/c.pv.CurrentPrice/lot) * lot
		maxQty := math.Floor(c.pv.Quantity/lot) * lot
		if quantity > maxQty {
			quantity = maxQty
		}
		if quantity < lot {
			continue
		}

		valueEUR := e.currency.ToEUR(quantity*c.pv.CurrentPrice, sec.Currency)
		sells = append(sells, domain.Recommendation{
			Symbol:            c.pv.Symbol,
			Action:            domain.TradeSideSell,
			CurrentAllocation: c.pv.AllocationPct,
			TargetAllocation:  c.pv.AllocationPct,
			ValueDeltaEUR:     -valueEUR,
			Quantity:          quantity,
			Price:             c.pv.CurrentPrice,
			Currency:          sec.Currency,
			LotSize:           sec.EffectiveMinLot(),
			Priority:          deficitPriority,
			Reason:            fmt.Sprintf("Sell to cover cash deficit of %.2f EUR", deficitEUR),
			Sleeve:            "core",
		})
		remaining -= valueEUR
	}
	return sells
}
