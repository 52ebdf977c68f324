// Package trading owns the append-only trade ledger and order execution.
package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// Trade is one executed fill as recorded from the broker
type Trade struct {
	ID                 int64            `json:"id"`
	BrokerTradeID      string           `json:"broker_trade_id"`
	Symbol             string           `json:"symbol"`
	Side               domain.TradeSide `json:"side"`
	Quantity           float64          `json:"quantity"`
	Price              float64          `json:"price"`
	Commission         float64          `json:"commission"`
	CommissionCurrency string           `json:"commission_currency"`
	Currency           string           `json:"currency"`
	ExecutedAt         int64            `json:"executed_at"`
	RawJSON            string           `json:"-"`
}

// Repository handles trades persistence. Rows are append-only and
// deduplicated by broker trade id; duplicates are silent no-ops.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new trade repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// Create inserts a trade. Inserting an already-known broker trade id is a
// no-op and returns false.
func (r *Repository) Create(t Trade) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO trades (broker_trade_id, symbol, side, quantity, price,
			commission, commission_currency, currency, executed_at, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(broker_trade_id) DO NOTHING`,
		t.BrokerTradeID, t.Symbol, string(t.Side), t.Quantity, t.Price,
		t.Commission, t.CommissionCurrency, t.Currency, t.ExecutedAt, t.RawJSON,
		time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert trade %s: %w", t.BrokerTradeID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const tradeColumns = `id, broker_trade_id, symbol, side, quantity, price,
	commission, commission_currency, currency, executed_at, COALESCE(raw_json, '')`

func scanTrade(row interface{ Scan(...any) error }) (Trade, error) {
	var t Trade
	var side string
	err := row.Scan(
		&t.ID, &t.BrokerTradeID, &t.Symbol, &side, &t.Quantity, &t.Price,
		&t.Commission, &t.CommissionCurrency, &t.Currency, &t.ExecutedAt, &t.RawJSON,
	)
	t.Side = domain.TradeSide(side)
	return t, err
}

// GetAll returns every trade in chronological order
func (r *Repository) GetAll() ([]Trade, error) {
	rows, err := r.db.Query(
		"SELECT " + tradeColumns + " FROM trades ORDER BY executed_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// GetBySymbol returns a symbol's trades in chronological order
func (r *Repository) GetBySymbol(symbol string) ([]Trade, error) {
	rows, err := r.db.Query(
		"SELECT "+tradeColumns+" FROM trades WHERE symbol = ? ORDER BY executed_at ASC, id ASC",
		symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", symbol, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetLastTrade returns the most recent trade for a symbol, or nil
func (r *Repository) GetLastTrade(symbol string) (*Trade, error) {
	row := r.db.QueryRow(
		"SELECT "+tradeColumns+" FROM trades WHERE symbol = ? ORDER BY executed_at DESC, id DESC LIMIT 1",
		symbol,
	)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last trade for %s: %w", symbol, err)
	}
	return &t, nil
}

// GetLastTransactionDate returns the most recent executed_at for a symbol,
// or nil when the symbol has never traded.
func (r *Repository) GetLastTransactionDate(symbol string) (*int64, error) {
	var executedAt int64
	err := r.db.QueryRow(
		"SELECT executed_at FROM trades WHERE symbol = ? ORDER BY executed_at DESC LIMIT 1",
		symbol,
	).Scan(&executedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last transaction date for %s: %w", symbol, err)
	}
	return &executedAt, nil
}

// Count returns the number of trade rows
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// CountSince returns trades executed at or after a timestamp
func (r *Repository) CountSince(since time.Time) (int, error) {
	var n int
	if err := r.db.QueryRow(
		"SELECT COUNT(*) FROM trades WHERE executed_at >= ?", since.Unix(),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades since %s: %w", since, err)
	}
	return n, nil
}
