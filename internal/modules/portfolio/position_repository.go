package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PositionRepository handles positions persistence
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

const positionColumns = `symbol, quantity, average_cost, current_price, currency,
	first_bought_at, last_sold_at, last_updated`

func scanPosition(row interface{ Scan(...any) error }) (Position, error) {
	var p Position
	err := row.Scan(
		&p.Symbol, &p.Quantity, &p.AverageCost, &p.CurrentPrice, &p.Currency,
		&p.FirstBoughtAt, &p.LastSoldAt, &p.LastUpdated,
	)
	return p, err
}

// GetActive returns positions with a positive quantity
func (r *PositionRepository) GetActive() ([]Position, error) {
	rows, err := r.db.Query(
		"SELECT " + positionColumns + " FROM positions WHERE quantity > 0 ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetBySymbol returns a position row regardless of quantity, or nil
func (r *PositionRepository) GetBySymbol(symbol string) (*Position, error) {
	row := r.db.QueryRow(
		"SELECT "+positionColumns+" FROM positions WHERE symbol = ?", symbol)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", symbol, err)
	}
	return &p, nil
}

// Upsert writes a position row. first_bought_at is only set when currently
// unknown; last_sold_at is never touched here (UpdateAfterSell owns it).
func (r *PositionRepository) Upsert(p Position) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO positions (symbol, quantity, average_cost, current_price, currency,
			first_bought_at, last_sold_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			average_cost = excluded.average_cost,
			current_price = excluded.current_price,
			currency = excluded.currency,
			first_bought_at = COALESCE(positions.first_bought_at, excluded.first_bought_at),
			last_updated = excluded.last_updated`,
		p.Symbol, p.Quantity, p.AverageCost, p.CurrentPrice, p.Currency,
		p.FirstBoughtAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// UpdatePrice refreshes just the current price of a position
func (r *PositionRepository) UpdatePrice(symbol string, price float64) error {
	_, err := r.db.Exec(
		"UPDATE positions SET current_price = ?, last_updated = ? WHERE symbol = ?",
		price, time.Now().Unix(), symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to update price for %s: %w", symbol, err)
	}
	return nil
}

// MarkSold stamps last_sold_at after a sell execution
func (r *PositionRepository) MarkSold(symbol string, at time.Time) error {
	_, err := r.db.Exec(
		"UPDATE positions SET last_sold_at = ? WHERE symbol = ?",
		at.Unix(), symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s sold: %w", symbol, err)
	}
	return nil
}

// ReplaceAll swaps the whole positions table for a fresh broker snapshot,
// preserving first_bought_at / last_sold_at for symbols that survive.
func (r *PositionRepository) ReplaceAll(positions []Position) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin position sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE positions SET quantity = 0"); err != nil {
		return fmt.Errorf("failed to zero positions: %w", err)
	}

	now := time.Now().Unix()
	for _, p := range positions {
		_, err := tx.Exec(`
			INSERT INTO positions (symbol, quantity, average_cost, current_price, currency,
				first_bought_at, last_sold_at, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				quantity = excluded.quantity,
				average_cost = excluded.average_cost,
				current_price = excluded.current_price,
				currency = excluded.currency,
				first_bought_at = COALESCE(positions.first_bought_at, excluded.first_bought_at),
				last_updated = excluded.last_updated`,
			p.Symbol, p.Quantity, p.AverageCost, p.CurrentPrice, p.Currency,
			p.FirstBoughtAt, now,
		)
		if err != nil {
			return fmt.Errorf("failed to sync position %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit position sync: %w", err)
	}
	return nil
}

// Count returns the number of position rows, including inactive ones
func (r *PositionRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM positions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return n, nil
}
