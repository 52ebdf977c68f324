// Package portfolio tracks held positions and cash balances, and answers
// current-state questions: total value, per-symbol / per-geography /
// per-industry allocations, and deviation from targets.
package portfolio

// Position represents a holding synced from the broker. Quantity may drop to
// zero or below; such rows are hidden from active-positions queries but kept
// so first_bought_at / last_sold_at survive for cooldown checks.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AverageCost   float64 `json:"average_cost"`
	CurrentPrice  float64 `json:"current_price"`
	Currency      string  `json:"currency"`
	FirstBoughtAt *int64  `json:"first_bought_at,omitempty"`
	LastSoldAt    *int64  `json:"last_sold_at,omitempty"`
	LastUpdated   int64   `json:"last_updated"`
}

// LastTransactionAt returns the most recent of first_bought_at and
// last_sold_at, or nil when neither is known.
func (p Position) LastTransactionAt() *int64 {
	latest := p.FirstBoughtAt
	if p.LastSoldAt != nil && (latest == nil || *p.LastSoldAt > *latest) {
		latest = p.LastSoldAt
	}
	return latest
}

// PositionValue is a position with its computed EUR valuation
type PositionValue struct {
	Position
	ValueLocal    float64 `json:"value_local"`
	ValueEUR      float64 `json:"value_eur"`
	AllocationPct float64 `json:"allocation_pct"`
}

// Allocation is one row of a per-dimension allocation breakdown
type Allocation struct {
	Name       string  `json:"name"`
	ValueEUR   float64 `json:"value_eur"`
	CurrentPct float64 `json:"current_pct"`
	TargetPct  float64 `json:"target_pct"`
	Deviation  float64 `json:"deviation"`
}

// Summary is the full current-state view used by the planner and the API
type Summary struct {
	TotalValueEUR     float64                 `json:"total_value_eur"`
	PositionsValueEUR float64                 `json:"positions_value_eur"`
	CashEUR           float64                 `json:"cash_eur"`
	CashByCurrency    map[string]float64      `json:"cash_by_currency"`
	Positions         []PositionValue         `json:"positions"`
	BySymbol          map[string]float64      `json:"by_symbol"`
	ByGeography       []Allocation            `json:"by_geography"`
	ByIndustry        []Allocation            `json:"by_industry"`
}

// RebalanceBucket classifies a security's drift for operator-facing reports.
// These thresholds do not gate the rebalance engine.
type RebalanceBucket string

const (
	BucketAligned    RebalanceBucket = "aligned"
	BucketMinorDrift RebalanceBucket = "minor_drift"
	BucketRebalance  RebalanceBucket = "needs_rebalance"
)

// RebalanceSummaryRow buckets one symbol by |current − target|
type RebalanceSummaryRow struct {
	Symbol     string          `json:"symbol"`
	CurrentPct float64         `json:"current_pct"`
	TargetPct  float64         `json:"target_pct"`
	Deviation  float64         `json:"deviation"`
	Bucket     RebalanceBucket `json:"bucket"`
}
