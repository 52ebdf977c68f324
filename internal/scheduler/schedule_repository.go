package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ScheduleRepository handles job_schedules persistence
type ScheduleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *sql.DB, log zerolog.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:  db,
		log: log.With().Str("repo", "job_schedules").Logger(),
	}
}

const scheduleColumns = `job_type, interval_minutes, interval_market_open_minutes,
	market_timing, category, enabled, last_run, consecutive_failures`

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var s Schedule
	var timing int
	err := row.Scan(
		&s.JobType, &s.IntervalMinutes, &s.IntervalMarketOpenMinutes,
		&timing, &s.Category, &s.Enabled, &s.LastRun, &s.ConsecutiveFailures,
	)
	s.MarketTiming = MarketTiming(timing)
	return s, err
}

// GetAll returns every schedule
func (r *ScheduleRepository) GetAll() ([]Schedule, error) {
	rows, err := r.db.Query("SELECT " + scheduleColumns + " FROM job_schedules ORDER BY category, job_type")
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// GetEnabled returns schedules eligible for dispatch
func (r *ScheduleRepository) GetEnabled() ([]Schedule, error) {
	rows, err := r.db.Query("SELECT " + scheduleColumns + " FROM job_schedules WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// Get returns one schedule, or nil
func (r *ScheduleRepository) Get(jobType string) (*Schedule, error) {
	row := r.db.QueryRow("SELECT "+scheduleColumns+" FROM job_schedules WHERE job_type = ?", jobType)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", jobType, err)
	}
	return &s, nil
}

// Seed inserts a schedule if it does not exist; existing rows keep their
// operator-tuned values.
func (r *ScheduleRepository) Seed(s Schedule) error {
	_, err := r.db.Exec(`
		INSERT INTO job_schedules (job_type, interval_minutes, interval_market_open_minutes,
			market_timing, category, enabled, last_run, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(job_type) DO NOTHING`,
		s.JobType, s.IntervalMinutes, s.IntervalMarketOpenMinutes,
		int(s.MarketTiming), s.Category, s.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to seed schedule %s: %w", s.JobType, err)
	}
	return nil
}

// RecordSuccess stamps last_run and clears the failure counter
func (r *ScheduleRepository) RecordSuccess(jobType string, at time.Time) error {
	_, err := r.db.Exec(
		"UPDATE job_schedules SET last_run = ?, consecutive_failures = 0 WHERE job_type = ?",
		at.Unix(), jobType,
	)
	if err != nil {
		return fmt.Errorf("failed to record success for %s: %w", jobType, err)
	}
	return nil
}

// RecordFailure stamps last_run so backoff is measured from this attempt,
// and increments the failure counter.
func (r *ScheduleRepository) RecordFailure(jobType string, at time.Time) error {
	_, err := r.db.Exec(
		"UPDATE job_schedules SET last_run = ?, consecutive_failures = consecutive_failures + 1 WHERE job_type = ?",
		at.Unix(), jobType,
	)
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", jobType, err)
	}
	return nil
}

// SetEnabled toggles a schedule
func (r *ScheduleRepository) SetEnabled(jobType string, enabled bool) error {
	_, err := r.db.Exec("UPDATE job_schedules SET enabled = ? WHERE job_type = ?", enabled, jobType)
	if err != nil {
		return fmt.Errorf("failed to toggle schedule %s: %w", jobType, err)
	}
	return nil
}

// UpdateInterval reconfigures a schedule's cadence at runtime
func (r *ScheduleRepository) UpdateInterval(jobType string, intervalMinutes int, marketOpenMinutes *int) error {
	_, err := r.db.Exec(
		"UPDATE job_schedules SET interval_minutes = ?, interval_market_open_minutes = ? WHERE job_type = ?",
		intervalMinutes, marketOpenMinutes, jobType,
	)
	if err != nil {
		return fmt.Errorf("failed to update interval for %s: %w", jobType, err)
	}
	return nil
}

// Categories returns the distinct schedule categories
func (r *ScheduleRepository) Categories() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT category FROM job_schedules ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
