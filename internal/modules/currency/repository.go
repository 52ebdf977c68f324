// Package currency converts amounts between currencies with EUR as the
// pivot and maintains the per-date FX rate history used by snapshot
// reconstruction.
package currency

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// RateRepository handles fx_rate_history persistence. Rows are keyed by
// (date, currency) and store the 1 ccy = r EUR rate for that date.
type RateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRateRepository creates a new FX rate repository
func NewRateRepository(db *sql.DB, log zerolog.Logger) *RateRepository {
	return &RateRepository{
		db:  db,
		log: log.With().Str("repo", "fx_rates").Logger(),
	}
}

// GetRate returns the stored rate for a date, or nil when absent
func (r *RateRepository) GetRate(date, ccy string) (*float64, error) {
	var rate float64
	err := r.db.QueryRow(
		"SELECT rate FROM fx_rate_history WHERE date = ? AND currency = ?",
		date, ccy,
	).Scan(&rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get FX rate %s/%s: %w", date, ccy, err)
	}
	return &rate, nil
}

// Upsert stores a rate for a date, replacing any existing row
func (r *RateRepository) Upsert(date, ccy string, rate float64) error {
	_, err := r.db.Exec(
		"INSERT INTO fx_rate_history (date, currency, rate) VALUES (?, ?, ?) ON CONFLICT(date, currency) DO UPDATE SET rate = excluded.rate",
		date, ccy, rate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert FX rate %s/%s: %w", date, ccy, err)
	}
	return nil
}

// GetLatestRate returns the most recent stored rate for a currency
func (r *RateRepository) GetLatestRate(ccy string) (*float64, error) {
	var rate float64
	err := r.db.QueryRow(
		"SELECT rate FROM fx_rate_history WHERE currency = ? ORDER BY date DESC LIMIT 1",
		ccy,
	).Scan(&rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest FX rate for %s: %w", ccy, err)
	}
	return &rate, nil
}

// GetDatesWithRates returns which of the given dates already have a rate for
// every one of the given currencies.
func (r *RateRepository) GetDatesWithRates(dates []string, currencies []string) (map[string]bool, error) {
	complete := make(map[string]bool, len(dates))
	for _, date := range dates {
		var count int
		query := "SELECT COUNT(DISTINCT currency) FROM fx_rate_history WHERE date = ?"
		if err := r.db.QueryRow(query, date).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count FX rates for %s: %w", date, err)
		}
		if count >= len(currencies) {
			complete[date] = true
		}
	}
	return complete, nil
}
