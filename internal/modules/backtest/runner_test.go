package backtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/trading"
	"github.com/aristath/sentinel/internal/modules/universe"
)

type runnerFixture struct {
	live      *database.DB
	runner    *Runner
	registry  *Registry
	trades    *trading.Repository
	positions *portfolio.PositionRepository
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	registry := NewRegistry()
	return &runnerFixture{
		live:      db,
		runner:    NewRunner(db, nil, registry, log),
		registry:  registry,
		trades:    trading.NewRepository(db.Conn(), log),
		positions: portfolio.NewPositionRepository(db.Conn(), log),
	}
}

// seedLive fills the live store with a one-security universe, daily price
// history, and one real position with its fill.
func (f *runnerFixture) seedLive(t *testing.T) {
	t.Helper()
	log := zerolog.Nop()
	now := time.Now().UTC()

	securities := universe.NewSecurityRepository(f.live.Conn(), log)
	require.NoError(t, securities.Upsert(universe.Security{
		Symbol:         "ACME",
		Name:           "Acme Corp",
		Currency:       "EUR",
		MinLot:         1,
		Active:         true,
		AllowBuy:       true,
		AllowSell:      true,
		UserMultiplier: 1.0,
	}))

	require.NoError(t, scoring.NewRepository(f.live.Conn(), log).Create("ACME", 0.8, nil))

	var bars []domain.PriceBar
	for i := 120; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		close := 100 + float64(120-i)*0.1
		bars = append(bars, domain.PriceBar{
			Symbol: "ACME",
			Date:   domain.DateOnly(day),
			Open:   close, High: close, Low: close, Close: close,
			Volume: 1000,
		})
	}
	require.NoError(t, prices.NewRepository(f.live.Conn(), log).UpsertBatch(bars))

	boughtAt := now.AddDate(0, 0, -200).Unix()
	require.NoError(t, f.positions.Upsert(portfolio.Position{
		Symbol:        "ACME",
		Quantity:      5,
		AverageCost:   90,
		CurrentPrice:  110,
		Currency:      "EUR",
		FirstBoughtAt: &boughtAt,
	}))
	_, err := f.trades.Create(trading.Trade{
		BrokerTradeID: "real-1",
		Symbol:        "ACME",
		Side:          domain.TradeSideBuy,
		Quantity:      5,
		Price:         90,
		Currency:      "EUR",
		ExecutedAt:    boughtAt,
	})
	require.NoError(t, err)
}

func runToCompletion(t *testing.T, f *runnerFixture, cfg Config, handle *Handle) []Event {
	t.Helper()
	events := make(chan Event, 1024)
	f.runner.Run(cfg, handle, events)

	var collected []Event
	for e := range events {
		collected = append(collected, e)
	}
	return collected
}

func TestRunLeavesLiveStoreUntouched(t *testing.T) {
	f := newRunnerFixture(t)
	f.seedLive(t)
	now := time.Now().UTC()

	tradesBefore, err := f.trades.Count()
	require.NoError(t, err)
	positionsBefore, err := f.positions.Count()
	require.NoError(t, err)

	handle, err := f.registry.Acquire("run-1")
	require.NoError(t, err)

	events := runToCompletion(t, f, Config{
		StartDate:          domain.DateOnly(now.AddDate(0, 0, -60)),
		EndDate:            domain.DateOnly(now.AddDate(0, 0, -30)),
		InitialCapital:     10000,
		MonthlyDeposit:     500,
		RebalanceFrequency: FrequencyDaily,
	}, handle)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, "result", last.Type)
	require.NotNil(t, last.Result)

	result := last.Result
	assert.Equal(t, 10000.0, result.InitialCapital)
	assert.GreaterOrEqual(t, result.TotalDeposited, 10000.0)
	assert.LessOrEqual(t, result.TotalDeposited, 10500.0)
	assert.Greater(t, result.TradesExecuted, 0)
	assert.NotEmpty(t, result.Snapshots)
	assert.Greater(t, result.FinalValueEUR, 0.0)

	// The simulation never writes through to the live store
	tradesAfter, err := f.trades.Count()
	require.NoError(t, err)
	assert.Equal(t, tradesBefore, tradesAfter)

	positionsAfter, err := f.positions.Count()
	require.NoError(t, err)
	assert.Equal(t, positionsBefore, positionsAfter)

	pos, err := f.positions.GetBySymbol("ACME")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 5.0, pos.Quantity)

	// The run released its slot
	assert.Nil(t, f.registry.Active())
}

func TestRunCancelled(t *testing.T) {
	f := newRunnerFixture(t)
	f.seedLive(t)
	now := time.Now().UTC()

	handle, err := f.registry.Acquire("run-1")
	require.NoError(t, err)
	handle.Cancel()

	events := runToCompletion(t, f, Config{
		StartDate:      domain.DateOnly(now.AddDate(0, 0, -40)),
		EndDate:        domain.DateOnly(now.AddDate(0, 0, -20)),
		InitialCapital: 10000,
	}, handle)

	require.NotEmpty(t, events)
	assert.Equal(t, "cancelled", events[len(events)-1].Type)
	assert.Nil(t, f.registry.Active())
}

func TestRunRejectsEmptyUniverse(t *testing.T) {
	f := newRunnerFixture(t)

	handle, err := f.registry.Acquire("run-1")
	require.NoError(t, err)

	events := runToCompletion(t, f, Config{InitialCapital: 10000}, handle)

	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1].Type)
}

func TestShouldRebalanceMonthlyOncePerMonth(t *testing.T) {
	// May 1st 2021 is a Saturday, so the first trading day is the 3rd
	start := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)

	lastMonth := ""
	var fired []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if shouldRebalance(FrequencyMonthly, day, lastMonth) {
			lastMonth = day.Format("2006-01")
			fired = append(fired, day.Format("2006-01-02"))
		}
	}

	assert.Equal(t, []string{"2021-05-03", "2021-06-01"}, fired)
}

func TestShouldRebalanceDailyAndWeekly(t *testing.T) {
	monday := time.Date(2021, 5, 3, 0, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)

	assert.True(t, shouldRebalance(FrequencyDaily, monday, ""))
	assert.True(t, shouldRebalance(FrequencyDaily, tuesday, ""))
	assert.True(t, shouldRebalance(FrequencyWeekly, monday, ""))
	assert.False(t, shouldRebalance(FrequencyWeekly, tuesday, ""))
}

func TestRegistrySingleFlight(t *testing.T) {
	registry := NewRegistry()

	handle, err := registry.Acquire("run-1")
	require.NoError(t, err)

	_, err = registry.Acquire("run-2")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	registry.Release(handle)
	_, err = registry.Acquire("run-3")
	assert.NoError(t, err)
}
