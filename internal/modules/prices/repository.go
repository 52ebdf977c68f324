// Package prices owns daily price bar storage and the validation logic that
// keeps corrupt broker data out of trading decisions.
package prices

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// Repository handles price_history persistence keyed by (symbol, date)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
	}
}

// Upsert writes one bar, replacing any existing row for (symbol, date)
func (r *Repository) Upsert(bar domain.PriceBar) error {
	_, err := r.db.Exec(`
		INSERT INTO price_history (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`,
		bar.Symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price %s/%s: %w", bar.Symbol, bar.Date, err)
	}
	return nil
}

// UpsertBatch writes a batch of bars inside one transaction
func (r *Repository) UpsertBatch(bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin price batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO price_history (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("failed to prepare price batch: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.Exec(bar.Symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("failed to insert price %s/%s: %w", bar.Symbol, bar.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price batch: %w", err)
	}
	return nil
}

// GetHistory returns bars for a symbol in ascending date order, optionally
// bounded to the most recent limit rows (0 = all).
func (r *Repository) GetHistory(symbol string, limit int) ([]domain.PriceBar, error) {
	return r.GetHistoryAsOf(symbol, "", limit)
}

// GetHistoryAsOf returns bars with date ≤ asOf in ascending order. An empty
// asOf means no upper bound. This is the read path the backtester gates.
func (r *Repository) GetHistoryAsOf(symbol, asOf string, limit int) ([]domain.PriceBar, error) {
	query := "SELECT symbol, date, open, high, low, close, volume FROM price_history WHERE symbol = ?"
	args := []any{symbol}
	if asOf != "" {
		query += " AND date <= ?"
		args = append(args, asOf)
	}
	query += " ORDER BY date DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip newest-first to ascending
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// GetCloses returns closing prices in ascending date order
func (r *Repository) GetCloses(symbol string, limit int) ([]float64, error) {
	bars, err := r.GetHistory(symbol, limit)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes, nil
}

// GetCloseOnOrBefore returns the most recent close with date ≤ the given
// date, or nil when the symbol has no bars that early.
func (r *Repository) GetCloseOnOrBefore(symbol, date string) (*float64, error) {
	var close float64
	err := r.db.QueryRow(
		"SELECT close FROM price_history WHERE symbol = ? AND date <= ? ORDER BY date DESC LIMIT 1",
		symbol, date,
	).Scan(&close)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get close for %s on %s: %w", symbol, date, err)
	}
	return &close, nil
}

// CountBars returns the number of stored bars for a symbol
func (r *Repository) CountBars(symbol string) (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM price_history WHERE symbol = ?", symbol).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count prices for %s: %w", symbol, err)
	}
	return n, nil
}

// GetSymbols returns the distinct symbols that have any price history
func (r *Repository) GetSymbols() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT symbol FROM price_history ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query price symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}
