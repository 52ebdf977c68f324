package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExpiredNeverRun(t *testing.T) {
	s := Schedule{JobType: "sync:portfolio", IntervalMinutes: 60}
	assert.True(t, s.IsExpired(time.Now(), false))
}

func TestIsExpiredInterval(t *testing.T) {
	now := time.Now()
	s := Schedule{JobType: "sync:portfolio", IntervalMinutes: 60}

	s.LastRun = now.Add(-30 * time.Minute).Unix()
	assert.False(t, s.IsExpired(now, false))

	s.LastRun = now.Add(-61 * time.Minute).Unix()
	assert.True(t, s.IsExpired(now, false))
}

func TestIsExpiredFailureBackoff(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		failures int
		lastRun  time.Duration
		expired  bool
	}{
		{"one failure retries after 2m", 1, -3 * time.Minute, true},
		{"one failure holds under 2m", 1, -time.Minute, false},
		{"two failures retry after 4m", 2, -5 * time.Minute, true},
		{"two failures hold under 4m", 2, -3 * time.Minute, false},
		{"three failures revert to the interval", 3, -10 * time.Minute, false},
		{"three failures past the interval", 3, -61 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Schedule{
				JobType:             "sync:portfolio",
				IntervalMinutes:     60,
				ConsecutiveFailures: tt.failures,
				LastRun:             now.Add(tt.lastRun).Unix(),
			}
			assert.Equal(t, tt.expired, s.IsExpired(now, false))
		})
	}
}

func TestIsExpiredMarketOpenInterval(t *testing.T) {
	now := time.Now()
	fast := 5
	s := Schedule{
		JobType:                   "sync:quotes",
		IntervalMinutes:           60,
		IntervalMarketOpenMinutes: &fast,
		LastRun:                   now.Add(-10 * time.Minute).Unix(),
	}

	assert.True(t, s.IsExpired(now, true))
	assert.False(t, s.IsExpired(now, false))
}

func TestIsExpiredBackoffOverridesMarketInterval(t *testing.T) {
	now := time.Now()
	fast := 1
	s := Schedule{
		JobType:                   "sync:quotes",
		IntervalMinutes:           60,
		IntervalMarketOpenMinutes: &fast,
		ConsecutiveFailures:       2,
		LastRun:                   now.Add(-2 * time.Minute).Unix(),
	}

	// Backoff (4m) wins over the 1m market-open interval
	assert.False(t, s.IsExpired(now, true))
}

func TestTimingSatisfied(t *testing.T) {
	tests := []struct {
		name        string
		timing      MarketTiming
		openMarkets int
		want        bool
	}{
		{"any with markets open", TimingAny, 2, true},
		{"any with markets closed", TimingAny, 0, true},
		{"all-closed blocked while open", TimingAllClosed, 1, false},
		{"all-closed allowed when closed", TimingAllClosed, 0, true},
		{"during-open blocked when closed", TimingDuringOpen, 0, false},
		{"during-open allowed while open", TimingDuringOpen, 3, true},
		{"any-time ignores markets", TimingAnyTime, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Schedule{MarketTiming: tt.timing}
			assert.Equal(t, tt.want, s.TimingSatisfied(tt.openMarkets))
		})
	}
}

func TestResolveHandlerCompositeIDs(t *testing.T) {
	s := New(nil, nil, nil, nil, zerolog.Nop())

	var got string
	s.Register("sync:prices", func(param string) error {
		got = param
		return nil
	})
	s.Register("sync", func(param string) error {
		t.Fatal("shorter prefix must not win")
		return nil
	})

	handler, param := s.resolveHandler("sync:prices:AAPL")
	require.NotNil(t, handler)
	assert.Equal(t, "AAPL", param)

	require.NoError(t, handler(param))
	assert.Equal(t, "AAPL", got)

	handler, param = s.resolveHandler("sync:prices")
	require.NotNil(t, handler)
	assert.Empty(t, param)

	handler, _ = s.resolveHandler("unknown:job")
	assert.Nil(t, handler)
}

func TestTryAcquireSingleFlight(t *testing.T) {
	s := New(nil, nil, nil, nil, zerolog.Nop())

	assert.True(t, s.tryAcquire("sync:prices:AAPL"))
	assert.False(t, s.tryAcquire("sync:prices:AAPL"))
	assert.True(t, s.tryAcquire("sync:prices:MSFT"))

	s.release("sync:prices:AAPL")
	assert.True(t, s.tryAcquire("sync:prices:AAPL"))
}
