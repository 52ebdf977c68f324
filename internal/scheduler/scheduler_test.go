package scheduler

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/events"
)

func newDispatchFixture(t *testing.T) (*Scheduler, <-chan events.Event) {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	bus := events.NewManager(log)
	ch, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)

	s := New(NewScheduleRepository(db.Conn(), log), NewHistoryRepository(db.Conn(), log), nil, bus, log)
	return s, ch
}

func TestDispatchEmitsOnSuccess(t *testing.T) {
	s, ch := newDispatchFixture(t)

	schedule := Schedule{JobType: "sync:portfolio", IntervalMinutes: 60, Category: "sync", Enabled: true}
	require.NoError(t, s.schedules.Seed(schedule))

	s.dispatch(schedule, func(string) error { return nil }, "")

	event := <-ch
	assert.Equal(t, events.PortfolioSynced, event.Type)
	assert.Equal(t, "scheduler", event.Module)
	assert.Equal(t, "sync:portfolio", event.Data["job"])
}

func TestDispatchEmitsOnFailure(t *testing.T) {
	s, ch := newDispatchFixture(t)

	schedule := Schedule{JobType: "sync:quotes", IntervalMinutes: 60, Category: "sync", Enabled: true}
	require.NoError(t, s.schedules.Seed(schedule))

	s.dispatch(schedule, func(string) error { return fmt.Errorf("broker unreachable") }, "")

	event := <-ch
	assert.Equal(t, events.ErrorOccurred, event.Type)
	assert.Equal(t, "broker unreachable", event.Data["error"])

	// The failure is also on the schedule for backoff
	updated, err := s.schedules.Get("sync:quotes")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 1, updated.ConsecutiveFailures)
}

func TestDispatchWithoutBus(t *testing.T) {
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	s := New(NewScheduleRepository(db.Conn(), log), NewHistoryRepository(db.Conn(), log), nil, nil, log)

	schedule := Schedule{JobType: "sync:portfolio", IntervalMinutes: 60, Category: "sync", Enabled: true}
	require.NoError(t, s.schedules.Seed(schedule))

	s.dispatch(schedule, func(string) error { return nil }, "")
}
