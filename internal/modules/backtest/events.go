// Package backtest replays the planner day-by-day over history against an
// isolated clone of the store. No write ever reaches production data.
package backtest

// Event is one item on a run's finite, non-restartable event stream
type Event struct {
	Type     string    `json:"type"` // progress | result | error | cancelled
	Progress *Progress `json:"progress,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Progress reports build or simulation advancement
type Progress struct {
	Phase       string `json:"phase"`
	ItemsDone   int    `json:"items_done"`
	ItemsTotal  int    `json:"items_total"`
	CurrentItem string `json:"current_item,omitempty"`
}

// SecurityPerformance summarizes one symbol's simulated activity
type SecurityPerformance struct {
	Symbol        string  `json:"symbol"`
	TotalInvested float64 `json:"total_invested"`
	TotalSold     float64 `json:"total_sold"`
	FinalValueEUR float64 `json:"final_value_eur"`
	ReturnPct     float64 `json:"return_pct"`
	BuyCount      int     `json:"buy_count"`
	SellCount     int     `json:"sell_count"`
}

// DailySnapshot is one simulated day's portfolio state
type DailySnapshot struct {
	Date              string                   `json:"date"`
	TotalValueEUR     float64                  `json:"total_value_eur"`
	CashEUR           float64                  `json:"cash_eur"`
	PositionsValueEUR float64                  `json:"positions_value_eur"`
	Positions         map[string]DailyPosition `json:"positions"`
}

// DailyPosition is one symbol inside a daily snapshot
type DailyPosition struct {
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	ValueEUR float64 `json:"value_eur"`
}

// Result is the terminal summary of a completed run
type Result struct {
	StartDate      string                `json:"start_date"`
	EndDate        string                `json:"end_date"`
	InitialCapital float64               `json:"initial_capital"`
	TotalDeposited float64               `json:"total_deposited"`
	FinalValueEUR  float64               `json:"final_value_eur"`
	TotalReturnPct float64               `json:"total_return_pct"`
	CAGR           float64               `json:"cagr"`
	MaxDrawdown    float64               `json:"max_drawdown"`
	SharpeRatio    *float64              `json:"sharpe_ratio,omitempty"`
	TradesExecuted int                   `json:"trades_executed"`
	Securities     []SecurityPerformance `json:"securities"`
	Snapshots      []DailySnapshot       `json:"snapshots"`
}
