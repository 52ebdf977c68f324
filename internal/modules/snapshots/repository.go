// Package snapshots rebuilds the daily portfolio history from immutable
// trades, prices, and FX rates, so the equity curve survives data
// corrections.
package snapshots

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// PositionSnapshot is one symbol's state inside a snapshot
type PositionSnapshot struct {
	Quantity float64 `json:"quantity"`
	ValueEUR float64 `json:"value_eur"`
}

// Snapshot is the end-of-day portfolio document, keyed by UTC midnight
type Snapshot struct {
	Date              int64                       `json:"date"`
	Positions         map[string]PositionSnapshot `json:"positions"`
	CashEUR           float64                     `json:"cash_eur"`
	PositionsValueEUR float64                     `json:"positions_value_eur"`
	NetDepositsEUR    float64                     `json:"net_deposits_eur"`
	UnrealizedPnLEUR  float64                     `json:"unrealized_pnl_eur"`
}

// TotalValueEUR is positions plus cash
func (s Snapshot) TotalValueEUR() float64 {
	return s.PositionsValueEUR + s.CashEUR
}

// Repository handles portfolio_snapshots persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Upsert writes one snapshot; reconstruction is idempotent per date
func (r *Repository) Upsert(s Snapshot) error {
	s.Date = domain.UTCMidnight(time.Unix(s.Date, 0)).Unix()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO portfolio_snapshots (date, data_json) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET data_json = excluded.data_json`,
		s.Date, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// GetRange returns snapshots between two UTC timestamps, ascending
func (r *Repository) GetRange(from, to int64) ([]Snapshot, error) {
	rows, err := r.db.Query(
		"SELECT date, data_json FROM portfolio_snapshots WHERE date >= ? AND date <= ? ORDER BY date ASC",
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var date int64
		var data string
		if err := rows.Scan(&date, &data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var s Snapshot
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot for %d: %w", date, err)
		}
		s.Date = date
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// GetAll returns every snapshot in ascending date order
func (r *Repository) GetAll() ([]Snapshot, error) {
	return r.GetRange(0, time.Now().Unix())
}

// Count returns the number of snapshot rows
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM portfolio_snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}
