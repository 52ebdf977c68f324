// Package scheduler drives background jobs under three pressures: per-job
// intervals, market timing, and failure backoff.
package scheduler

import (
	"math"
	"time"
)

// MarketTiming gates when a job may run relative to market hours
type MarketTiming int

const (
	TimingAny        MarketTiming = 0 // alias for any-time
	TimingAllClosed  MarketTiming = 1
	TimingDuringOpen MarketTiming = 2
	TimingAnyTime    MarketTiming = 3
)

// Backoff caps at this failure count; beyond it the normal interval applies
const maxBackoffFailures = 3

// Schedule is one job's runtime configuration. Parameterized jobs use
// composite job types ("sync:prices:AAPL"); each composite id gets its own
// row, so last-run and failures are tracked per id.
type Schedule struct {
	JobType                   string       `json:"job_type"`
	IntervalMinutes           int          `json:"interval_minutes"`
	IntervalMarketOpenMinutes *int         `json:"interval_market_open_minutes,omitempty"`
	MarketTiming              MarketTiming `json:"market_timing"`
	Category                  string       `json:"category"`
	Enabled                   bool         `json:"enabled"`
	LastRun                   int64        `json:"last_run"`
	ConsecutiveFailures       int          `json:"consecutive_failures"`
}

// IsExpired reports whether the job is due. Jobs failing 1–2 times in a row
// retry on an exponential backoff of 2^failures minutes; at 3 or more the
// normal interval takes over again.
func (s Schedule) IsExpired(now time.Time, marketOpen bool) bool {
	if s.LastRun == 0 {
		return true
	}

	intervalMinutes := s.IntervalMinutes
	if s.ConsecutiveFailures > 0 && s.ConsecutiveFailures < maxBackoffFailures {
		intervalMinutes = int(math.Pow(2, float64(s.ConsecutiveFailures)))
	} else if marketOpen && s.IntervalMarketOpenMinutes != nil {
		intervalMinutes = *s.IntervalMarketOpenMinutes
	}

	elapsed := now.Unix() - s.LastRun
	return elapsed >= int64(intervalMinutes)*60
}

// TimingSatisfied evaluates the market-timing gate against the count of
// open markets the active universe trades on.
func (s Schedule) TimingSatisfied(openMarkets int) bool {
	switch s.MarketTiming {
	case TimingAllClosed:
		return openMarkets == 0
	case TimingDuringOpen:
		return openMarkets > 0
	default:
		return true
	}
}

// JobStatus values recorded in job history
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// HistoryEntry is one append-only job execution record
type HistoryEntry struct {
	ID         int64  `json:"id"`
	JobID      string `json:"job_id"`
	JobType    string `json:"job_type"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	ExecutedAt int64  `json:"executed_at"`
	RetryCount int    `json:"retry_count"`
}
