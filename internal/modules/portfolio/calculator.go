package portfolio

// Converter is the currency surface the calculator needs
type Converter interface {
	Rate(ccy string) float64
	ToEUR(amount float64, ccy string) float64
}

// Value computes the local and EUR value of a holding
func Value(quantity, price float64, ccy string, converter Converter) (valueLocal, valueEUR float64) {
	valueLocal = quantity * price
	valueEUR = converter.ToEUR(valueLocal, ccy)
	return valueLocal, valueEUR
}

// AllocationPct returns value/total with zero total yielding zero
func AllocationPct(valueEUR, totalEUR float64) float64 {
	if totalEUR <= 0 {
		return 0
	}
	return valueEUR / totalEUR
}

// UnrealizedPnL returns absolute and relative P&L for a position. A zero or
// negative average cost yields zero rather than a division blowup.
func UnrealizedPnL(quantity, price, avgCost float64) (abs, pct float64) {
	abs = (price - avgCost) * quantity
	if avgCost <= 0 {
		return abs, 0
	}
	pct = (price - avgCost) / avgCost
	return abs, pct
}
