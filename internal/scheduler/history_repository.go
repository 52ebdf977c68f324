package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HistoryRepository handles the append-only job_history ledger
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repo", "job_history").Logger(),
	}
}

// Record appends one execution row
func (r *HistoryRepository) Record(jobID, jobType, status, errMsg string, duration time.Duration, retryCount int) error {
	_, err := r.db.Exec(`
		INSERT INTO job_history (job_id, job_type, status, error, duration_ms, executed_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, jobType, status, nullable(errMsg), duration.Milliseconds(), time.Now().Unix(), retryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record job history for %s: %w", jobID, err)
	}
	return nil
}

// GetRecent returns the newest entries, newest first
func (r *HistoryRepository) GetRecent(limit int) ([]HistoryEntry, error) {
	rows, err := r.db.Query(
		"SELECT id, job_id, job_type, status, COALESCE(error, ''), duration_ms, executed_at, retry_count FROM job_history ORDER BY executed_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.JobType, &e.Status, &e.Error, &e.DurationMs, &e.ExecutedAt, &e.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
