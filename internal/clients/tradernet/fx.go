package tradernet

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aristath/sentinel/internal/domain"
)

// fxRoute describes how a currency conversion maps onto a tradeable FX pair.
// Side is the action on the pair's base currency when converting from→to;
// Via marks conversions that have no direct pair and hop through EUR.
type fxRoute struct {
	Pair string
	Side domain.TradeSide
	Via  string
}

// The broker exposes a fixed set of FX pairs. Everything else composes
// through EUR.
var fxRoutes = map[string]fxRoute{
	"EUR/USD": {Pair: "EUR/USD", Side: domain.TradeSideBuy},
	"USD/EUR": {Pair: "EUR/USD", Side: domain.TradeSideSell},
	"EUR/GBP": {Pair: "EUR/GBP", Side: domain.TradeSideBuy},
	"GBP/EUR": {Pair: "EUR/GBP", Side: domain.TradeSideSell},
	"GBP/USD": {Pair: "GBP/USD", Side: domain.TradeSideBuy},
	"USD/GBP": {Pair: "GBP/USD", Side: domain.TradeSideSell},
	"USD/HKD": {Pair: "USD/HKD", Side: domain.TradeSideBuy},
	"HKD/USD": {Pair: "USD/HKD", Side: domain.TradeSideSell},
	"EUR/HKD": {Pair: "EUR/HKD", Side: domain.TradeSideBuy},
	"HKD/EUR": {Pair: "EUR/HKD", Side: domain.TradeSideSell},
	"GBP/HKD": {Via: "EUR"},
	"HKD/GBP": {Via: "EUR"},
}

// ResolveFxRoute returns the pair and direction for a conversion, or the
// pivot currency when the conversion has no direct pair.
func ResolveFxRoute(from, to string) (fxRoute, bool) {
	route, ok := fxRoutes[from+"/"+to]
	return route, ok
}

// GetFxRate returns the rate for converting one unit of from into to
func (c *Client) GetFxRate(from, to string) (float64, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return 1.0, nil
	}

	route, ok := fxRoutes[from+"/"+to]
	if !ok {
		// Unrouted conversion: compose through EUR
		route = fxRoute{Via: "EUR"}
	}

	if route.Via != "" {
		leg1, err := c.GetFxRate(from, route.Via)
		if err != nil {
			return 0, err
		}
		leg2, err := c.GetFxRate(route.Via, to)
		if err != nil {
			return 0, err
		}
		return leg1 * leg2, nil
	}

	quote, err := c.GetQuote(route.Pair)
	if err != nil {
		return 0, fmt.Errorf("failed to quote %s: %w", route.Pair, err)
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("non-positive rate for %s", route.Pair)
	}

	if route.Side == domain.TradeSideSell {
		return 1 / quote.Price, nil
	}
	return quote.Price, nil
}

// GetRatesToEUR returns current ccy→EUR rates for a set of currencies
func (c *Client) GetRatesToEUR(currencies []string) (map[string]float64, error) {
	rates := make(map[string]float64, len(currencies))
	for _, ccy := range currencies {
		rate, err := c.GetFxRate(ccy, "EUR")
		if err != nil {
			return rates, err
		}
		rates[ccy] = rate
	}
	return rates, nil
}

// GetRatesToEURForDate returns historical ccy→EUR rates for one date.
// One request covers all requested currencies.
func (c *Client) GetRatesToEURForDate(currencies []string, date string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("/fx/history?date=%s&currencies=%s",
		url.QueryEscape(date), url.QueryEscape(strings.Join(currencies, ",")))

	resp, err := c.get(c.client, endpoint)
	if err != nil {
		return nil, err
	}

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse FX history: %w", err)
	}
	return result.Rates, nil
}
