package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// CashRepository handles cash_balances persistence. Balances may be negative
// when the broker reports margin usage.
type CashRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCashRepository creates a new cash balance repository
func NewCashRepository(db *sql.DB, log zerolog.Logger) *CashRepository {
	return &CashRepository{
		db:  db,
		log: log.With().Str("repo", "cash_balances").Logger(),
	}
}

// GetAll returns all balances as currency → amount
func (r *CashRepository) GetAll() (map[string]float64, error) {
	rows, err := r.db.Query("SELECT currency, amount FROM cash_balances")
	if err != nil {
		return nil, fmt.Errorf("failed to query cash balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]float64)
	for rows.Next() {
		var ccy string
		var amount float64
		if err := rows.Scan(&ccy, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan cash balance: %w", err)
		}
		balances[ccy] = amount
	}
	return balances, rows.Err()
}

// Get returns the balance for one currency (zero when absent)
func (r *CashRepository) Get(ccy string) (float64, error) {
	var amount float64
	err := r.db.QueryRow("SELECT amount FROM cash_balances WHERE currency = ?", ccy).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cash balance %s: %w", ccy, err)
	}
	return amount, nil
}

// Set upserts one balance
func (r *CashRepository) Set(ccy string, amount float64) error {
	_, err := r.db.Exec(`
		INSERT INTO cash_balances (currency, amount, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(currency) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		ccy, amount, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set cash balance %s: %w", ccy, err)
	}
	return nil
}

// Adjust adds a delta to one balance
func (r *CashRepository) Adjust(ccy string, delta float64) error {
	current, err := r.Get(ccy)
	if err != nil {
		return err
	}
	return r.Set(ccy, current+delta)
}

// ReplaceAll resets the table to a fresh broker snapshot
func (r *CashRepository) ReplaceAll(balances []domain.CashBalance) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cash sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cash_balances"); err != nil {
		return fmt.Errorf("failed to clear cash balances: %w", err)
	}

	now := time.Now().Unix()
	for _, b := range balances {
		if _, err := tx.Exec(
			"INSERT INTO cash_balances (currency, amount, updated_at) VALUES (?, ?, ?)",
			b.Currency, b.Amount, now,
		); err != nil {
			return fmt.Errorf("failed to insert cash balance %s: %w", b.Currency, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cash sync: %w", err)
	}
	return nil
}
