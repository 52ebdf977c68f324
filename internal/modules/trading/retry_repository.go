package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// PendingRetry is an order that failed at the broker and is queued for a
// later attempt.
type PendingRetry struct {
	ID        int64            `json:"id"`
	Symbol    string           `json:"symbol"`
	Side      domain.TradeSide `json:"side"`
	Quantity  float64          `json:"quantity"`
	Status    string           `json:"status"`
	Attempts  int              `json:"attempts"`
	CreatedAt int64            `json:"created_at"`
}

// RetryRepository handles pending_retries persistence
type RetryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRetryRepository creates a new retry repository
func NewRetryRepository(db *sql.DB, log zerolog.Logger) *RetryRepository {
	return &RetryRepository{
		db:  db,
		log: log.With().Str("repo", "pending_retries").Logger(),
	}
}

// Add queues a failed order for retry
func (r *RetryRepository) Add(symbol string, side domain.TradeSide, quantity float64) error {
	_, err := r.db.Exec(
		"INSERT INTO pending_retries (symbol, side, quantity, status, attempts, created_at) VALUES (?, ?, ?, 'pending', 0, ?)",
		symbol, string(side), quantity, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to queue retry for %s: %w", symbol, err)
	}
	return nil
}

// GetPending returns retries that still need attempting, oldest first
func (r *RetryRepository) GetPending() ([]PendingRetry, error) {
	rows, err := r.db.Query(
		"SELECT id, symbol, side, quantity, status, attempts, created_at FROM pending_retries WHERE status = 'pending' ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending retries: %w", err)
	}
	defer rows.Close()

	var retries []PendingRetry
	for rows.Next() {
		var p PendingRetry
		var side string
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &p.Quantity, &p.Status, &p.Attempts, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending retry: %w", err)
		}
		p.Side = domain.TradeSide(side)
		retries = append(retries, p)
	}
	return retries, rows.Err()
}

// MarkCompleted closes out a retry after a successful attempt
func (r *RetryRepository) MarkCompleted(id int64) error {
	_, err := r.db.Exec("UPDATE pending_retries SET status = 'completed' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to complete retry %d: %w", id, err)
	}
	return nil
}

// RecordFailure bumps the attempt counter; after maxAttempts the retry is
// abandoned.
func (r *RetryRepository) RecordFailure(id int64, maxAttempts int) error {
	_, err := r.db.Exec(`
		UPDATE pending_retries
		SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= ? THEN 'abandoned' ELSE 'pending' END
		WHERE id = ?`,
		maxAttempts, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record retry failure %d: %w", id, err)
	}
	return nil
}
