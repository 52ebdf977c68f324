package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/events"
)

// Handler runs one job. The param is the suffix of a composite job type
// ("sync:prices:AAPL" → param "AAPL") or empty for plain jobs.
type Handler func(param string) error

// Scheduler is the single cooperative dispatch loop. It ticks once a
// minute, evaluates every enabled schedule's expiry and market-timing
// predicates, and dispatches due handlers on their own goroutines with
// at-most-one instance per job id.
type Scheduler struct {
	schedules *ScheduleRepository
	history   *HistoryRepository
	markets   *MarketHours
	events    *events.Manager
	log       zerolog.Logger

	cron *cron.Cron

	mu       sync.Mutex
	handlers map[string]Handler
	running  map[string]bool
}

// New creates a new scheduler. The event bus may be nil.
func New(schedules *ScheduleRepository, history *HistoryRepository, markets *MarketHours, bus *events.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		history:   history,
		markets:   markets,
		events:    bus,
		log:       log.With().Str("component", "scheduler").Logger(),
		handlers:  make(map[string]Handler),
		running:   make(map[string]bool),
	}
}

// jobEvents maps job types to the bus notification their success raises
var jobEvents = map[string]events.EventType{
	"sync:portfolio":     events.PortfolioSynced,
	"sync:prices":        events.PricesSynced,
	"compute:scoring":    events.ScoringComplete,
	"compute:aggregates": events.SnapshotsRebuilt,
}

// Register binds a handler to a job type. Composite job ids resolve to the
// longest registered prefix.
func (s *Scheduler) Register(jobType string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Start begins the dispatch tick
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every 1m", s.Tick); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop halts the tick; in-flight jobs run to completion
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.log.Info().Msg("Scheduler stopped")
}

// Tick runs one dispatch pass. Exported so tests and manual triggers can
// drive the loop without waiting for the cron cadence.
func (s *Scheduler) Tick() {
	schedules, err := s.schedules.GetEnabled()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load schedules")
		return
	}

	openMarkets := 0
	if s.markets != nil {
		openMarkets = s.markets.OpenMarkets()
	}
	now := time.Now()

	for _, schedule := range schedules {
		if !schedule.IsExpired(now, openMarkets > 0) {
			continue
		}
		if !schedule.TimingSatisfied(openMarkets) {
			continue
		}

		handler, param := s.resolveHandler(schedule.JobType)
		if handler == nil {
			s.log.Warn().Str("job_type", schedule.JobType).Msg("No handler registered")
			continue
		}

		if !s.tryAcquire(schedule.JobType) {
			continue
		}

		go s.dispatch(schedule, handler, param)
	}
}

func (s *Scheduler) resolveHandler(jobType string) (Handler, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handlers[jobType]; ok {
		return h, ""
	}

	best := ""
	for key := range s.handlers {
		if strings.HasPrefix(jobType, key+":") && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return nil, ""
	}
	return s.handlers[best], jobType[len(best)+1:]
}

func (s *Scheduler) tryAcquire(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[jobID] {
		return false
	}
	s.running[jobID] = true
	return true
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// dispatch runs one job and records its outcome
func (s *Scheduler) dispatch(schedule Schedule, handler Handler, param string) {
	defer s.release(schedule.JobType)

	started := time.Now()
	err := handler(param)
	duration := time.Since(started)

	if err != nil {
		s.log.Warn().
			Err(err).
			Str("job", schedule.JobType).
			Dur("duration", duration).
			Int("failures", schedule.ConsecutiveFailures+1).
			Msg("Job failed")
		if herr := s.history.Record(schedule.JobType, schedule.JobType, StatusFailed, err.Error(), duration, schedule.ConsecutiveFailures); herr != nil {
			s.log.Error().Err(herr).Msg("Failed to record job history")
		}
		if serr := s.schedules.RecordFailure(schedule.JobType, time.Now()); serr != nil {
			s.log.Error().Err(serr).Msg("Failed to record job failure")
		}
		if s.events != nil {
			s.events.EmitError("scheduler", err, map[string]interface{}{"job": schedule.JobType})
		}
		return
	}

	s.log.Debug().Str("job", schedule.JobType).Dur("duration", duration).Msg("Job completed")
	if herr := s.history.Record(schedule.JobType, schedule.JobType, StatusCompleted, "", duration, 0); herr != nil {
		s.log.Error().Err(herr).Msg("Failed to record job history")
	}
	if serr := s.schedules.RecordSuccess(schedule.JobType, time.Now()); serr != nil {
		s.log.Error().Err(serr).Msg("Failed to record job success")
	}
	if s.events != nil {
		if eventType, ok := jobEvents[schedule.JobType]; ok {
			s.events.Emit(eventType, "scheduler", map[string]interface{}{
				"job":         schedule.JobType,
				"duration_ms": duration.Milliseconds(),
			})
		}
	}
}
