package domain

import (
	"fmt"
	"strings"
	"time"
)

// TradeSide represents the trade direction (BUY or SELL)
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// IsValid checks if the trade side is valid
func (ts TradeSide) IsValid() bool {
	return ts == TradeSideBuy || ts == TradeSideSell
}

// IsBuy returns true if this is a BUY trade
func (ts TradeSide) IsBuy() bool {
	return ts == TradeSideBuy
}

// IsSell returns true if this is a SELL trade
func (ts TradeSide) IsSell() bool {
	return ts == TradeSideSell
}

// Opposite returns the other trade direction
func (ts TradeSide) Opposite() TradeSide {
	if ts == TradeSideBuy {
		return TradeSideSell
	}
	return TradeSideBuy
}

// TradeSideFromString creates TradeSide from string (case-insensitive)
func TradeSideFromString(value string) (TradeSide, error) {
	if value == "" {
		return "", fmt.Errorf("invalid trade side: empty string")
	}

	switch strings.ToUpper(value) {
	case "BUY":
		return TradeSideBuy, nil
	case "SELL":
		return TradeSideSell, nil
	default:
		return "", fmt.Errorf("invalid trade side: %s", value)
	}
}

// PriceBar is one daily OHLCV bar, keyed by (symbol, date)
type PriceBar struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Quote is a broker quote snapshot
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
}

// CashBalance is a per-currency broker balance. Negative means margin debt.
type CashBalance struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// Recommendation is a single trade the planner proposes. Transient: never
// persisted, rebuilt on every planning pass.
type Recommendation struct {
	Symbol            string    `json:"symbol"`
	Action            TradeSide `json:"action"`
	CurrentAllocation float64   `json:"current_allocation"`
	TargetAllocation  float64   `json:"target_allocation"`
	ValueDeltaEUR     float64   `json:"value_delta_eur"`
	Quantity          float64   `json:"quantity"`
	Price             float64   `json:"price"`
	Currency          string    `json:"currency"`
	LotSize           int       `json:"lot_size"`
	ExpectedReturn    float64   `json:"expected_return"`
	Priority          float64   `json:"priority"`
	Reason            string    `json:"reason"`
	Sleeve            string    `json:"sleeve"`
}

// DateOnly formats a time as the YYYY-MM-DD key used throughout the store
func DateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UTCMidnight truncates a time to its UTC midnight, the snapshot key
func UTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
