// Package universe owns the investment universe: the securities the system
// is allowed to look at, their trading constraints and the operator's
// conviction adjustments.
package universe

import "strings"

// Security represents a security in the investment universe.
// Geography and Industry are comma-separated when a security spans several
// tags; weight-splitting across tags happens at the consumer.
type Security struct {
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Currency       string  `json:"currency"`
	Geography      string  `json:"geography,omitempty"`
	Industry       string  `json:"industry,omitempty"`
	MinLot         int     `json:"min_lot"`
	Active         bool    `json:"active"`
	AllowBuy       bool    `json:"allow_buy"`
	AllowSell      bool    `json:"allow_sell"`
	UserMultiplier float64 `json:"user_multiplier"`
	MarketCode     string  `json:"market_code,omitempty"`
	LastSynced     *int64  `json:"last_synced,omitempty"`
}

// Countries returns the geography tags as a slice
func (s Security) Countries() []string {
	return splitTags(s.Geography)
}

// Industries returns the industry tags as a slice
func (s Security) Industries() []string {
	return splitTags(s.Industry)
}

// EffectiveMinLot never returns less than 1
func (s Security) EffectiveMinLot() int {
	if s.MinLot < 1 {
		return 1
	}
	return s.MinLot
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
