package cashflows

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PoolRepository tracks per-symbol uninvested dividend pools. Pools grow as
// dividends land and shrink when the allocation calculator reinvests them.
type PoolRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPoolRepository creates a new dividend pool repository
func NewPoolRepository(db *sql.DB, log zerolog.Logger) *PoolRepository {
	return &PoolRepository{
		db:  db,
		log: log.With().Str("repo", "dividend_pools").Logger(),
	}
}

// GetAll returns symbol → uninvested EUR amount, omitting empty pools
func (r *PoolRepository) GetAll() (map[string]float64, error) {
	rows, err := r.db.Query("SELECT symbol, amount_eur FROM dividend_pools WHERE amount_eur > 0")
	if err != nil {
		return nil, fmt.Errorf("failed to query dividend pools: %w", err)
	}
	defer rows.Close()

	pools := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var amount float64
		if err := rows.Scan(&symbol, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan dividend pool: %w", err)
		}
		pools[symbol] = amount
	}
	return pools, rows.Err()
}

// Add credits a dividend payment to a symbol's pool
func (r *PoolRepository) Add(symbol string, amountEUR float64) error {
	_, err := r.db.Exec(`
		INSERT INTO dividend_pools (symbol, amount_eur, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			amount_eur = dividend_pools.amount_eur + excluded.amount_eur,
			updated_at = excluded.updated_at`,
		symbol, amountEUR, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to credit dividend pool %s: %w", symbol, err)
	}
	return nil
}

// Drain empties a symbol's pool after reinvestment
func (r *PoolRepository) Drain(symbol string) error {
	_, err := r.db.Exec(
		"UPDATE dividend_pools SET amount_eur = 0, updated_at = ? WHERE symbol = ?",
		time.Now().Unix(), symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to drain dividend pool %s: %w", symbol, err)
	}
	return nil
}

// DetectDividendCut compares the latest two dividend payments for a symbol's
// history and reports a cut when the change is strictly below −threshold.
// A change of exactly −threshold does not trigger.
func DetectDividendCut(payments []float64, threshold float64) (bool, float64) {
	if len(payments) < 2 || threshold <= 0 {
		return false, 0
	}
	prev := payments[len(payments)-2]
	latest := payments[len(payments)-1]
	if prev <= 0 {
		return false, 0
	}
	change := (latest - prev) / prev
	return change < -threshold, change
}
