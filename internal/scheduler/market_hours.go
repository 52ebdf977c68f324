package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/modules/universe"
)

// MarketStatusClient is the broker surface for open/closed checks
type MarketStatusClient interface {
	GetMarketStatus(marketID string) (bool, error)
}

// MarketHours answers "how many of our markets are open right now",
// consulting the broker once per market id and caching briefly so a single
// dispatch tick costs at most one round of requests.
type MarketHours struct {
	client     MarketStatusClient
	securities *universe.SecurityRepository
	log        zerolog.Logger

	mu        sync.Mutex
	openCount int
	checkedAt time.Time
}

const marketStatusTTL = 5 * time.Minute

// NewMarketHours creates a new market hours service
func NewMarketHours(client MarketStatusClient, securities *universe.SecurityRepository, log zerolog.Logger) *MarketHours {
	return &MarketHours{
		client:     client,
		securities: securities,
		log:        log.With().Str("service", "market_hours").Logger(),
	}
}

// OpenMarkets returns how many distinct market codes in the active universe
// are currently open. Broker failures count a market as closed.
func (m *MarketHours) OpenMarkets() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.checkedAt) < marketStatusTTL {
		return m.openCount
	}

	securities, err := m.securities.GetAllActive()
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to load universe for market check")
		return m.openCount
	}

	markets := make(map[string]bool)
	for _, s := range securities {
		if s.MarketCode != "" {
			markets[s.MarketCode] = true
		}
	}

	open := 0
	for marketID := range markets {
		isOpen, err := m.client.GetMarketStatus(marketID)
		if err != nil {
			m.log.Debug().Err(err).Str("market", marketID).Msg("Market status check failed")
			continue
		}
		if isOpen {
			open++
		}
	}

	m.openCount = open
	m.checkedAt = time.Now()
	return open
}

// AnyOpen reports whether at least one market is open
func (m *MarketHours) AnyOpen() bool {
	return m.OpenMarkets() > 0
}
