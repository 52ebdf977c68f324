package rebalancing

import (
	"math"
	"sort"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/universe"
)

// applyCashConstraint shrinks the buy list until its total cost fits inside
// the available budget: EUR cash plus net sell proceeds.
func (e *Engine) applyCashConstraint(
	buys []domain.Recommendation,
	sells []domain.Recommendation,
	summary *portfolio.Summary,
	secMap map[string]universe.Security,
) []domain.Recommendation {
	if len(buys) == 0 {
		return buys
	}

	fixedFee := e.settings.GetFloat(settings.KeyTransactionFeeFixed)
	pctFee := e.settings.GetFloat(settings.KeyTransactionFeePercent) / 100.0
	minValue := e.settings.GetFloat(settings.KeyMinTradeValue)

	budget := summary.CashEUR
	for _, s := range sells {
		proceeds := e.currency.ToEUR(s.Quantity*s.Price, s.Currency)
		budget += proceeds - (fixedFee + proceeds*pctFee)
	}
	if budget <= 0 {
		return nil
	}

	costOf := func(rec domain.Recommendation, quantity float64) float64 {
		value := e.currency.ToEUR(quantity*rec.Price, rec.Currency)
		return value + fixedFee + value*pctFee
	}

	totalCost := 0.0
	for _, b := range buys {
		totalCost += costOf(b, b.Quantity)
	}
	if totalCost <= budget {
		return buys
	}

	sort.Slice(buys, func(i, j int) bool { return buys[i].Priority > buys[j].Priority })

	// Pass 1: accept each buy at its minimum viable size while it fits
	type sized struct {
		rec      domain.Recommendation
		idealQty float64
		quantity float64
		lot      float64
	}
	var accepted []sized
	remaining := budget
	for _, b := range buys {
		lot := float64(b.LotSize)
		if lot <= 0 {
			lot = 1
		}
		minQty := e.minViableQuantity(b, lot, minValue)
		if minQty <= 0 {
			continue
		}
		cost := costOf(b, minQty)
		if cost > remaining {
			continue
		}
		remaining -= cost
		accepted = append(accepted, sized{rec: b, idealQty: b.Quantity, quantity: minQty, lot: lot})
	}
	if len(accepted) == 0 {
		return nil
	}

	// Pass 2: distribute the leftover proportionally to each buy's gap
	// between minimum and ideal cost
	totalGap := 0.0
	gaps := make([]float64, len(accepted))
	for i, a := range accepted {
		gap := costOf(a.rec, a.idealQty) - costOf(a.rec, a.quantity)
		if gap < 0 {
			gap = 0
		}
		gaps[i] = gap
		totalGap += gap
	}
	if totalGap > 0 {
		for i := range accepted {
			a := &accepted[i]
			share := remaining * gaps[i] / totalGap
			lotCost := e.currency.ToEUR(a.lot*a.rec.Price, a.rec.Currency) * (1 + pctFee)
			if lotCost <= 0 {
				continue
			}
			extraLots := math.Floor(share / lotCost)
			extraQty := extraLots * a.lot
			if a.quantity+extraQty > a.idealQty {
				extraQty = math.Floor((a.idealQty-a.quantity)/a.lot) * a.lot
			}
			if extraQty <= 0 {
				continue
			}
			cost := e.currency.ToEUR(extraQty*a.rec.Price, a.rec.Currency) * (1 + pctFee)
			if cost > remaining {
				continue
			}
			a.quantity += extraQty
			remaining -= cost
		}
	}

	// Pass 3: top up one lot at a time in priority order until the leftover
	// is exhausted. Bounded for guaranteed termination.
	for iter := 0; iter < maxTopUpIterations; iter++ {
		added := false
		for i := range accepted {
			a := &accepted[i]
			if a.quantity+a.lot > a.idealQty {
				continue
			}
			lotCost := e.currency.ToEUR(a.lot*a.rec.Price, a.rec.Currency) * (1 + pctFee)
			if lotCost <= 0 || lotCost > remaining {
				continue
			}
			a.quantity += a.lot
			remaining -= lotCost
			added = true
		}
		if !added {
			break
		}
	}

	result := make([]domain.Recommendation, 0, len(accepted))
	for _, a := range accepted {
		rec := a.rec
		rec.Quantity = a.quantity
		rec.ValueDeltaEUR = e.currency.ToEUR(a.quantity*rec.Price, rec.Currency)
		result = append(result, rec)
	}
	return result
}

// minViableQuantity is the smallest lot multiple whose EUR value clears the
// minimum trade value, bounded by the ideal quantity.
func (e *Engine) minViableQuantity(rec domain.Recommendation, lot, minValue float64) float64 {
	lotValueEUR := e.currency.ToEUR(lot*rec.Price, rec.Currency)
	if lotValueEUR <= 0 {
		return 0
	}
	lots := math.Ceil(minValue / lotValueEUR)
	if lots < 1 {
		lots = 1
	}
	quantity := lots * lot
	if quantity > rec.Quantity {
		return 0
	}
	return quantity
}
