package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestSetGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	type payload struct {
		Symbol string
		Score  float64
	}
	require.NoError(t, repo.Set("score:AAPL", payload{Symbol: "AAPL", Score: 0.8}, time.Minute))

	var got payload
	found, err := repo.Get("score:AAPL", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.InDelta(t, 0.8, got.Score, 1e-9)
}

func TestGetExpiredEntry(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Set("stale", "v", -time.Minute))

	var got string
	found, err := repo.Get("stale", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPurgeExpired(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("live", "v", time.Minute))
	require.NoError(t, repo.Set("stale-1", "v", -time.Minute))
	require.NoError(t, repo.Set("stale-2", "v", -time.Hour))

	purged, err := repo.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	stats, err := repo.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Zero(t, stats.Expired)

	var got string
	found, err := repo.Get("live", &got)
	require.NoError(t, err)
	assert.True(t, found)
}
