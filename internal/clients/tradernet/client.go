// Package tradernet is the broker adapter. All market data and order flow
// goes through the broker's REST surface; in research mode order placement
// short-circuits to a synthetic id with no side effects.
package tradernet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

const quoteCacheTTL = 5 * time.Minute

// Client talks to the Tradernet REST API
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	research  bool

	client     *http.Client
	longClient *http.Client // Bulk history downloads need a longer deadline

	mu         sync.Mutex
	quoteCache map[string]cachedQuote

	log zerolog.Logger
}

type cachedQuote struct {
	quote     domain.Quote
	fetchedAt time.Time
}

// ServiceResponse is the standard response envelope
type ServiceResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	Timestamp string          `json:"timestamp"`
}

// Config holds client construction parameters
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Research  bool // Research mode: orders are simulated, never sent
}

// NewClient creates a new Tradernet client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		research:  cfg.Research || cfg.APIKey == "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		longClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		quoteCache: make(map[string]cachedQuote),
		log:        log.With().Str("client", "tradernet").Logger(),
	}
}

// IsConnected reports whether API credentials are configured
func (c *Client) IsConnected() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// IsResearch reports whether the client is in research (no side effects) mode
func (c *Client) IsResearch() bool {
	return c.research
}

func (c *Client) get(hc *http.Client, endpoint string) (*ServiceResponse, error) {
	resp, err := hc.Get(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

func (c *Client) post(endpoint string, request interface{}) (*ServiceResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.client.Post(c.baseURL+endpoint, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

func (c *Client) parseResponse(resp *http.Response) (*ServiceResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ServiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		errMsg := "unknown error"
		if result.Error != nil {
			errMsg = *result.Error
		}
		return &result, fmt.Errorf("broker error: %s", errMsg)
	}

	return &result, nil
}

// GetQuote returns a quote for one symbol, served from the 5-minute cache
// when fresh.
func (c *Client) GetQuote(symbol string) (*domain.Quote, error) {
	quotes, err := c.GetQuotes([]string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &q, nil
}

// GetQuotes returns quotes for many symbols, fetching only cache misses
func (c *Client) GetQuotes(symbols []string) (map[string]domain.Quote, error) {
	result := make(map[string]domain.Quote, len(symbols))
	var missing []string

	c.mu.Lock()
	for _, s := range symbols {
		if entry, ok := c.quoteCache[s]; ok && time.Since(entry.fetchedAt) < quoteCacheTTL {
			result[s] = entry.quote
		} else {
			missing = append(missing, s)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	resp, err := c.get(c.client, "/quotes?symbols="+url.QueryEscape(strings.Join(missing, ",")))
	if err != nil {
		return result, err
	}

	var fetched struct {
		Quotes []domain.Quote `json:"quotes"`
	}
	if err := json.Unmarshal(resp.Data, &fetched); err != nil {
		return result, fmt.Errorf("failed to parse quotes: %w", err)
	}

	c.mu.Lock()
	now := time.Now()
	for _, q := range fetched.Quotes {
		c.quoteCache[q.Symbol] = cachedQuote{quote: q, fetchedAt: now}
		result[q.Symbol] = q
	}
	c.mu.Unlock()

	return result, nil
}

// GetHistoricalPricesBulk fetches daily bars for many symbols at once
func (c *Client) GetHistoricalPricesBulk(symbols []string, years int) (map[string][]domain.PriceBar, error) {
	endpoint := fmt.Sprintf("/history/bulk?symbols=%s&years=%d",
		url.QueryEscape(strings.Join(symbols, ",")), years)

	resp, err := c.get(c.longClient, endpoint)
	if err != nil {
		return nil, err
	}

	var result map[string][]domain.PriceBar
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse bulk history: %w", err)
	}
	return result, nil
}

// PortfolioPosition is a broker-side position row
type PortfolioPosition struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
	Currency     string  `json:"currency"`
}

// Portfolio is the broker-side account state
type Portfolio struct {
	Positions []PortfolioPosition `json:"positions"`
	Cash      map[string]float64  `json:"cash"`
}

// GetPortfolio gets current positions and cash balances
func (c *Client) GetPortfolio() (*Portfolio, error) {
	resp, err := c.get(c.client, "/portfolio")
	if err != nil {
		return nil, err
	}

	var result Portfolio
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse portfolio: %w", err)
	}
	return &result, nil
}

// GetCashBalances returns the per-currency cash amounts
func (c *Client) GetCashBalances() ([]domain.CashBalance, error) {
	portfolio, err := c.GetPortfolio()
	if err != nil {
		return nil, err
	}

	balances := make([]domain.CashBalance, 0, len(portfolio.Cash))
	for ccy, amount := range portfolio.Cash {
		balances = append(balances, domain.CashBalance{Currency: ccy, Amount: amount})
	}
	return balances, nil
}

// placeOrderRequest is the order placement payload
type placeOrderRequest struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`
}

// Buy places a buy order and returns the broker order id.
// Asian-market symbols (suffix .AS) require a limit price.
func (c *Client) Buy(symbol string, quantity float64, price *float64) (string, error) {
	return c.placeOrder(symbol, domain.TradeSideBuy, quantity, price)
}

// Sell places a sell order and returns the broker order id
func (c *Client) Sell(symbol string, quantity float64, price *float64) (string, error) {
	return c.placeOrder(symbol, domain.TradeSideSell, quantity, price)
}

func (c *Client) placeOrder(symbol string, side domain.TradeSide, quantity float64, price *float64) (string, error) {
	if requiresLimitPrice(symbol) && price == nil {
		return "", fmt.Errorf("symbol %s requires a limit price", symbol)
	}

	if c.research {
		orderID := "RESEARCH-" + uuid.NewString()
		c.log.Info().
			Str("symbol", symbol).
			Str("side", string(side)).
			Float64("quantity", quantity).
			Str("order_id", orderID).
			Msg("Research mode: order simulated")
		return orderID, nil
	}

	resp, err := c.post("/orders", placeOrderRequest{
		Symbol:   symbol,
		Side:     string(side),
		Quantity: quantity,
		Price:    price,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return "", fmt.Errorf("failed to parse order result: %w", err)
	}
	return result.OrderID, nil
}

// requiresLimitPrice reports whether the exchange insists on limit orders
func requiresLimitPrice(symbol string) bool {
	return strings.HasSuffix(symbol, ".AS")
}

// TradeRow is one executed trade as reported by the broker.
// Side is encoded 1 (buy) / 2 (sell) on the wire.
type TradeRow struct {
	BrokerTradeID      string          `json:"trade_id"`
	Symbol             string          `json:"symbol"`
	Side               int             `json:"side"`
	Quantity           float64         `json:"quantity"`
	Price              float64         `json:"price"`
	Commission         float64         `json:"commission"`
	CommissionCurrency string          `json:"commission_currency"`
	Currency           string          `json:"currency"`
	ExecutedAt         string          `json:"executed_at"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// SideValue translates the broker's numeric side encoding
func (t TradeRow) SideValue() domain.TradeSide {
	if t.Side == 2 {
		return domain.TradeSideSell
	}
	return domain.TradeSideBuy
}

// GetTradesHistory returns executed trades between two dates (inclusive)
func (c *Client) GetTradesHistory(start, end time.Time) ([]TradeRow, error) {
	endpoint := fmt.Sprintf("/trades?start=%s&end=%s",
		domain.DateOnly(start), domain.DateOnly(end))

	resp, err := c.get(c.client, endpoint)
	if err != nil {
		return nil, err
	}

	var result struct {
		Trades []TradeRow `json:"trades"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse trades history: %w", err)
	}
	return result.Trades, nil
}

// CashFlowRow is one account cash movement
type CashFlowRow struct {
	Date     string          `json:"date"`
	Type     string          `json:"type"` // deposit, withdrawal, dividend, tax, block, unblock
	Amount   float64         `json:"amount"`
	Currency string          `json:"currency"`
	Comment  string          `json:"comment"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// GetCashFlows returns cash movements between two dates
func (c *Client) GetCashFlows(start, end time.Time) ([]CashFlowRow, error) {
	endpoint := fmt.Sprintf("/cash-flows?start=%s&end=%s",
		domain.DateOnly(start), domain.DateOnly(end))

	resp, err := c.get(c.client, endpoint)
	if err != nil {
		return nil, err
	}

	var result struct {
		Flows []CashFlowRow `json:"flows"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse cash flows: %w", err)
	}
	return result.Flows, nil
}

// CorporateAction is a dividend/split style event
type CorporateAction struct {
	Symbol   string  `json:"symbol"`
	Type     string  `json:"type"`
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// GetCorporateActions returns corporate actions between two dates
func (c *Client) GetCorporateActions(start, end time.Time) ([]CorporateAction, error) {
	endpoint := fmt.Sprintf("/corporate-actions?start=%s&end=%s",
		domain.DateOnly(start), domain.DateOnly(end))

	resp, err := c.get(c.client, endpoint)
	if err != nil {
		return nil, err
	}

	var result struct {
		Actions []CorporateAction `json:"actions"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse corporate actions: %w", err)
	}
	return result.Actions, nil
}

// GetMarketStatus reports whether a market is currently open
func (c *Client) GetMarketStatus(marketID string) (bool, error) {
	resp, err := c.get(c.client, "/markets/"+url.PathEscape(marketID)+"/status")
	if err != nil {
		return false, err
	}

	var result struct {
		Open bool `json:"open"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return false, fmt.Errorf("failed to parse market status: %w", err)
	}
	return result.Open, nil
}

// AvailableSecurity is one row of the broker's tradeable universe
type AvailableSecurity struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Market   string `json:"market"`
}

// GetAvailableSecurities lists the broker's tradeable universe
func (c *Client) GetAvailableSecurities() ([]AvailableSecurity, error) {
	resp, err := c.get(c.longClient, "/securities")
	if err != nil {
		return nil, err
	}

	var result struct {
		Securities []AvailableSecurity `json:"securities"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse securities: %w", err)
	}
	return result.Securities, nil
}
