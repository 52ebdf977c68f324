package trading

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db.Conn(), zerolog.Nop())
}

func sampleTrade(id string, side domain.TradeSide, executedAt time.Time) Trade {
	return Trade{
		BrokerTradeID: id,
		Symbol:        "AAPL",
		Side:          side,
		Quantity:      10,
		Price:         150,
		Commission:    2,
		Currency:      "USD",
		ExecutedAt:    executedAt.Unix(),
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	trade := sampleTrade("broker-1", domain.TradeSideBuy, time.Now())

	for i := 0; i < 5; i++ {
		inserted, err := repo.Create(trade)
		require.NoError(t, err)
		assert.Equal(t, i == 0, inserted, "attempt %d", i)

		count, err := repo.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func TestGetBySymbolChronological(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now()

	_, err := repo.Create(sampleTrade("t-2", domain.TradeSideSell, now))
	require.NoError(t, err)
	_, err = repo.Create(sampleTrade("t-1", domain.TradeSideBuy, now.AddDate(0, 0, -30)))
	require.NoError(t, err)

	trades, err := repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-1", trades[0].BrokerTradeID)
	assert.Equal(t, "t-2", trades[1].BrokerTradeID)
}

func TestCooldownSymmetry(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		lastSide domain.TradeSide
		lastDays int
		nextSide domain.TradeSide
		blocked  bool
	}{
		{"sell shortly after buy", domain.TradeSideBuy, 10, domain.TradeSideSell, true},
		{"buy shortly after sell", domain.TradeSideSell, 10, domain.TradeSideBuy, true},
		{"sell long after buy", domain.TradeSideBuy, 45, domain.TradeSideSell, false},
		{"buy long after sell", domain.TradeSideSell, 45, domain.TradeSideBuy, false},
		{"repeat buy allowed", domain.TradeSideBuy, 10, domain.TradeSideBuy, false},
		{"repeat sell allowed", domain.TradeSideSell, 10, domain.TradeSideSell, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := sampleTrade("x", tt.lastSide, now.AddDate(0, 0, -tt.lastDays))
			blocked := CheckCooldown(&last, tt.nextSide, 30, now)
			assert.Equal(t, tt.blocked, blocked)
		})
	}
}

func TestCooldownNoHistory(t *testing.T) {
	repo := newTestRepository(t)

	blocked, err := repo.InCooldown("NOPE", domain.TradeSideBuy, 30, time.Now())
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestGetLastTransactionDate(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now()

	latest, err := repo.GetLastTransactionDate("AAPL")
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = repo.Create(sampleTrade("t-1", domain.TradeSideBuy, now.AddDate(0, 0, -60)))
	require.NoError(t, err)
	_, err = repo.Create(sampleTrade("t-2", domain.TradeSideSell, now.AddDate(0, 0, -5)))
	require.NoError(t, err)

	latest, err = repo.GetLastTransactionDate("AAPL")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, now.AddDate(0, 0, -5).Unix(), *latest)
}

func TestCountSince(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now()

	_, err := repo.Create(sampleTrade("old", domain.TradeSideBuy, now.AddDate(0, 0, -10)))
	require.NoError(t, err)
	_, err = repo.Create(sampleTrade("new", domain.TradeSideSell, now.Add(-time.Hour)))
	require.NoError(t, err)

	count, err := repo.CountSince(now.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
