package snapshots

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/cashflows"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/trading"
)

type stubRates struct {
	toEUR map[string]float64
}

func (s stubRates) RateForDate(ccy, date string) float64 {
	if r, ok := s.toEUR[ccy]; ok {
		return r
	}
	return 1.0
}

func (s stubRates) PrefetchRates(currencies []string, dates []string) error { return nil }

type serviceFixture struct {
	service   *Service
	trades    *trading.Repository
	flows     *cashflows.Repository
	prices    *prices.Repository
	snapshots *Repository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	conn := db.Conn()
	f := &serviceFixture{
		trades:    trading.NewRepository(conn, log),
		flows:     cashflows.NewRepository(conn, log),
		prices:    prices.NewRepository(conn, log),
		snapshots: NewRepository(conn, log),
	}
	f.service = NewService(f.trades, f.flows, f.prices, f.snapshots,
		stubRates{toEUR: map[string]float64{"USD": 0.9}}, log)
	return f
}

func (f *serviceFixture) seedHistory(t *testing.T) {
	t.Helper()
	now := time.Now().UTC()

	_, err := f.flows.Create(cashflows.CashFlow{
		Date:     domain.DateOnly(now.AddDate(0, 0, -40)),
		Type:     cashflows.TypeDeposit,
		Amount:   5000,
		Currency: "EUR",
	})
	require.NoError(t, err)

	_, err = f.trades.Create(trading.Trade{
		BrokerTradeID:      "t-1",
		Symbol:             "AAPL",
		Side:               domain.TradeSideBuy,
		Quantity:           10,
		Price:              100,
		Commission:         2,
		CommissionCurrency: "USD",
		Currency:           "USD",
		ExecutedAt:         now.AddDate(0, 0, -30).Unix(),
	})
	require.NoError(t, err)

	require.NoError(t, f.prices.Upsert(domain.PriceBar{
		Symbol: "AAPL",
		Date:   domain.DateOnly(now.AddDate(0, 0, -30)),
		Open:   120, High: 120, Low: 120, Close: 120,
	}))
}

func TestRebuildAllIsDeterministic(t *testing.T) {
	f := newServiceFixture(t)
	f.seedHistory(t)

	require.NoError(t, f.service.RebuildAll())
	first, err := f.snapshots.GetAll()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	require.NoError(t, f.service.RebuildAll())
	second, err := f.snapshots.GetAll()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRebuildAllAccounting(t *testing.T) {
	f := newServiceFixture(t)
	f.seedHistory(t)

	require.NoError(t, f.service.RebuildAll())
	snapshots, err := f.snapshots.GetAll()
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)

	// 31 calendar days from the first trade through today
	assert.Len(t, snapshots, 31)

	last := snapshots[len(snapshots)-1]

	// Deposit 5000 EUR, buy 10 × 100 USD + 2 USD fee at 0.90
	assert.InDelta(t, 5000-(10*100*0.9+2*0.9), last.CashEUR, 1e-6)
	assert.InDelta(t, 10*120*0.9, last.PositionsValueEUR, 1e-6)
	assert.InDelta(t, last.CashEUR+last.PositionsValueEUR, last.TotalValueEUR(), 1e-9)

	pos, ok := last.Positions["AAPL"]
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Quantity)
}

func TestRebuildAllSellReducesCostBasis(t *testing.T) {
	f := newServiceFixture(t)
	f.seedHistory(t)
	now := time.Now().UTC()

	_, err := f.trades.Create(trading.Trade{
		BrokerTradeID:      "t-2",
		Symbol:             "AAPL",
		Side:               domain.TradeSideSell,
		Quantity:           5,
		Price:              110,
		Commission:         2,
		CommissionCurrency: "USD",
		Currency:           "USD",
		ExecutedAt:         now.AddDate(0, 0, -10).Unix(),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.RebuildAll())
	snapshots, err := f.snapshots.GetAll()
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)

	last := snapshots[len(snapshots)-1]
	pos, ok := last.Positions["AAPL"]
	require.True(t, ok)
	assert.Equal(t, 5.0, pos.Quantity)

	// Half the position sold leaves half the original cost basis
	assert.InDelta(t, 10*100*0.9/2, last.NetDepositsEUR, 1e-6)
}

func TestRebuildAllSkipsDerivatives(t *testing.T) {
	f := newServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.trades.Create(trading.Trade{
		BrokerTradeID: "fx-1",
		Symbol:        "EUR/USD",
		Side:          domain.TradeSideBuy,
		Quantity:      1000,
		Price:         1.08,
		Currency:      "USD",
		ExecutedAt:    now.AddDate(0, 0, -5).Unix(),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.RebuildAll())
	count, err := f.snapshots.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}
