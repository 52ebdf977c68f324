// Package events is the in-process event bus. Every emission is logged;
// subscribers (the websocket stream) receive a copy on a buffered channel.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	PortfolioSynced   EventType = "PORTFOLIO_SYNCED"
	PricesSynced      EventType = "PRICES_SYNCED"
	TradeExecuted     EventType = "TRADE_EXECUTED"
	TradeSkipped      EventType = "TRADE_SKIPPED"
	ScoringComplete   EventType = "SCORING_COMPLETE"
	SnapshotsRebuilt  EventType = "SNAPSHOTS_REBUILT"
	DividendCut       EventType = "DIVIDEND_CUT"
	DeficitSell       EventType = "DEFICIT_SELL"
	BacktestStarted   EventType = "BACKTEST_STARTED"
	BacktestFinished  EventType = "BACKTEST_FINISHED"
	BacktestCancelled EventType = "BACKTEST_CANCELLED"
	ErrorOccurred     EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Manager handles event emission, logging, and fan-out
type Manager struct {
	log zerolog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:  log.With().Str("service", "events").Logger(),
		subs: make(map[int]chan Event),
	}
}

// Subscribe returns a buffered event channel and an unsubscribe func.
// Slow subscribers drop events rather than block emitters.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan Event, 64)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
