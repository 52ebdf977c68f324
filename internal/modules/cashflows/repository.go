// Package cashflows records broker cash movements (deposits, withdrawals,
// dividends, taxes, blocks) and tracks per-symbol uninvested dividend pools.
package cashflows

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Flow types as reported by the broker
const (
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
	TypeDividend   = "dividend"
	TypeTax        = "tax"
	TypeBlock      = "block"
	TypeUnblock    = "unblock"
)

// CashFlow is one cash movement. ContentHash deduplicates identical entries
// on the same day; rows are append-only.
type CashFlow struct {
	ID          int64   `json:"id"`
	ContentHash string  `json:"content_hash"`
	Date        string  `json:"date"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Comment     string  `json:"comment"`
	RawJSON     string  `json:"-"`
}

// Hash computes the dedupe key from the identifying fields
func (c CashFlow) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.8f|%s|%s",
		c.Date, c.Type, c.Amount, c.Currency, c.Comment)))
	return hex.EncodeToString(sum[:])
}

// Repository handles cash_flows persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new cash flow repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "cash_flows").Logger(),
	}
}

// Create inserts a flow; a duplicate content hash is a silent no-op and
// returns false.
func (r *Repository) Create(c CashFlow) (bool, error) {
	hash := c.ContentHash
	if hash == "" {
		hash = c.Hash()
	}
	result, err := r.db.Exec(`
		INSERT INTO cash_flows (content_hash, date, type, amount, currency, comment, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		hash, c.Date, c.Type, c.Amount, c.Currency, c.Comment, c.RawJSON, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cash flow: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByType returns flows of one type in ascending date order
func (r *Repository) GetByType(flowType string) ([]CashFlow, error) {
	rows, err := r.db.Query(
		"SELECT id, content_hash, date, type, amount, currency, comment, COALESCE(raw_json, '') FROM cash_flows WHERE type = ? ORDER BY date ASC, id ASC",
		flowType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s flows: %w", flowType, err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

// GetAll returns every flow in ascending date order
func (r *Repository) GetAll() ([]CashFlow, error) {
	rows, err := r.db.Query(
		"SELECT id, content_hash, date, type, amount, currency, comment, COALESCE(raw_json, '') FROM cash_flows ORDER BY date ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func collectFlows(rows *sql.Rows) ([]CashFlow, error) {
	var flows []CashFlow
	for rows.Next() {
		var c CashFlow
		if err := rows.Scan(&c.ID, &c.ContentHash, &c.Date, &c.Type, &c.Amount, &c.Currency, &c.Comment, &c.RawJSON); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		flows = append(flows, c)
	}
	return flows, rows.Err()
}

// SumByType returns the net amount per currency for one flow type
func (r *Repository) SumByType(flowType string) (map[string]float64, error) {
	rows, err := r.db.Query(
		"SELECT currency, COALESCE(SUM(amount), 0) FROM cash_flows WHERE type = ? GROUP BY currency",
		flowType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum %s flows: %w", flowType, err)
	}
	defer rows.Close()

	sums := make(map[string]float64)
	for rows.Next() {
		var ccy string
		var amount float64
		if err := rows.Scan(&ccy, &amount); err != nil {
			return nil, err
		}
		sums[ccy] = amount
	}
	return sums, rows.Err()
}

// Count returns the number of cash flow rows
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM cash_flows").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cash flows: %w", err)
	}
	return n, nil
}
