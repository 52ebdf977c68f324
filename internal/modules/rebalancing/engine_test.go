package rebalancing

import (
	"fmt"
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
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/trading"
	"github.com/aristath/sentinel/internal/modules/universe"
)

type stubFX struct {
	rates map[string]float64 // ccy → EUR
}

func (f stubFX) Rate(ccy string) float64 {
	if ccy == "EUR" || ccy == "" {
		return 1.0
	}
	if r, ok := f.rates[ccy]; ok {
		return r
	}
	return 1.0
}

func (f stubFX) ToEUR(amount float64, ccy string) float64   { return amount * f.Rate(ccy) }
func (f stubFX) FromEUR(amount float64, ccy string) float64 { return amount / f.Rate(ccy) }

type engineFixture struct {
	engine     *Engine
	securities *universe.SecurityRepository
	trades     *trading.Repository
	prices     *prices.Repository
	scores     *scoring.Repository
}

func newEngineFixture(t *testing.T, fx stubFX) *engineFixture {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	conn := db.Conn()
	f := &engineFixture{
		securities: universe.NewSecurityRepository(conn, log),
		trades:     trading.NewRepository(conn, log),
		prices:     prices.NewRepository(conn, log),
		scores:     scoring.NewRepository(conn, log),
	}
	f.engine = NewEngine(
		f.securities, f.trades, f.prices, prices.NewValidator(log), f.scores,
		fx, settings.NewRepository(conn, log), nil, log,
	)
	return f
}

func (f *engineFixture) seedSecurity(t *testing.T, symbol, currency string, lot int, allowBuy, allowSell bool) {
	t.Helper()
	require.NoError(t, f.securities.Upsert(universe.Security{
		Symbol:         symbol,
		Name:           symbol,
		Currency:       currency,
		MinLot:         lot,
		Active:         true,
		AllowBuy:       allowBuy,
		AllowSell:      allowSell,
		UserMultiplier: 1.0,
	}))
}

func (f *engineFixture) seedPrice(t *testing.T, symbol string, close float64) {
	t.Helper()
	require.NoError(t, f.prices.Upsert(domain.PriceBar{
		Symbol: symbol,
		Date:   domain.DateOnly(time.Now()),
		Open:   close, High: close, Low: close, Close: close,
	}))
}

func positionValue(symbol string, quantity, price float64, currency string, valueEUR, totalEUR float64) portfolio.PositionValue {
	return portfolio.PositionValue{
		Position: portfolio.Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AverageCost:  price,
			CurrentPrice: price,
			Currency:     currency,
		},
		ValueLocal:    quantity * price,
		ValueEUR:      valueEUR,
		AllocationPct: valueEUR / totalEUR,
	}
}

func TestPlanCashConstrainedBuy(t *testing.T) {
	f := newEngineFixture(t, stubFX{})
	f.seedSecurity(t, "XXX", "EUR", 1, true, true)
	f.seedPrice(t, "XXX", 100)

	summary := &portfolio.Summary{
		TotalValueEUR:  10000,
		CashEUR:        500,
		CashByCurrency: map[string]float64{"EUR": 500},
		BySymbol:       map[string]float64{},
	}
	ideal := map[string]float64{"XXX": 0.20}

	recs, err := f.engine.Plan(ideal, summary, "", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "XXX", rec.Symbol)
	assert.Equal(t, domain.TradeSideBuy, rec.Action)
	// 500 EUR budget: 4 shares cost 400 + 2.0 fixed + 0.8 pct fee; a fifth
	// lot would breach the budget.
	assert.Equal(t, 4.0, rec.Quantity)
}

func TestPlanBudgetFeasibility(t *testing.T) {
	f := newEngineFixture(t, stubFX{})
	for i := 0; i < 5; i++ {
		symbol := fmt.Sprintf("BUY%d", i)
		f.seedSecurity(t, symbol, "EUR", 1, true, true)
		f.seedPrice(t, symbol, 50+float64(i)*30)
		require.NoError(t, f.scores.Create(symbol, 0.3+0.1*float64(i), nil))
	}

	summary := &portfolio.Summary{
		TotalValueEUR:  20000,
		CashEUR:        1200,
		CashByCurrency: map[string]float64{"EUR": 1200},
		BySymbol:       map[string]float64{},
	}
	ideal := map[string]float64{
		"BUY0": 0.10, "BUY1": 0.10, "BUY2": 0.10, "BUY3": 0.10, "BUY4": 0.10,
	}

	recs, err := f.engine.Plan(ideal, summary, "", nil)
	require.NoError(t, err)

	totalCost := 0.0
	for _, rec := range recs {
		require.Equal(t, domain.TradeSideBuy, rec.Action)
		// Lot validity
		lot := float64(rec.LotSize)
		assert.GreaterOrEqual(t, rec.Quantity, lot)
		assert.Zero(t, int64(rec.Quantity)%int64(rec.LotSize))

		value := rec.Quantity * rec.Price
		totalCost += value + 2.0 + value*0.002
	}
	assert.LessOrEqual(t, totalCost, summary.CashEUR+1.0)
}

func TestPlanCooldownBlocksOppositeSide(t *testing.T) {
	seedTrade := func(t *testing.T, f *engineFixture, daysAgo int) {
		t.Helper()
		_, err := f.trades.Create(trading.Trade{
			BrokerTradeID: "t-1",
			Symbol:        "MSFT",
			Side:          domain.TradeSideBuy,
			Quantity:      50,
			Price:         100,
			Currency:      "EUR",
			ExecutedAt:    time.Now().AddDate(0, 0, -daysAgo).Unix(),
		})
		require.NoError(t, err)
	}

	summary := func(total float64) *portfolio.Summary {
		pv := positionValue("MSFT", 50, 100, "EUR", 5000, total)
		return &portfolio.Summary{
			TotalValueEUR:  total,
			CashEUR:        5000,
			CashByCurrency: map[string]float64{"EUR": 5000},
			Positions:      []portfolio.PositionValue{pv},
			BySymbol:       map[string]float64{"MSFT": 0.5},
		}
	}
	ideal := map[string]float64{"MSFT": 0.2}

	t.Run("recent opposite trade blocks", func(t *testing.T) {
		f := newEngineFixture(t, stubFX{})
		f.seedSecurity(t, "MSFT", "EUR", 1, true, true)
		seedTrade(t, f, 10)

		recs, err := f.engine.Plan(ideal, summary(10000), "", nil)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("stale opposite trade allows", func(t *testing.T) {
		f := newEngineFixture(t, stubFX{})
		f.seedSecurity(t, "MSFT", "EUR", 1, true, true)
		seedTrade(t, f, 45)

		recs, err := f.engine.Plan(ideal, summary(10000), "", nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, domain.TradeSideSell, recs[0].Action)
	})
}

func TestPlanDeficitSells(t *testing.T) {
	fx := stubFX{rates: map[string]float64{"USD": 0.85}}
	f := newEngineFixture(t, fx)
	f.seedSecurity(t, "AAPL", "USD", 1, true, true)

	pv := positionValue("AAPL", 10, 200, "USD", 1700, 1700)
	summary := &portfolio.Summary{
		TotalValueEUR:  1700 + 85 - 5000,
		CashEUR:        85 - 5000,
		CashByCurrency: map[string]float64{"EUR": -5000, "USD": 100},
		Positions:      []portfolio.PositionValue{pv},
		BySymbol:       map[string]float64{"AAPL": 1.0},
	}

	recs, err := f.engine.Plan(map[string]float64{}, summary, "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	rec := recs[0]
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, domain.TradeSideSell, rec.Action)
	assert.Equal(t, 1000.0, rec.Priority)
	assert.Contains(t, rec.Reason, "deficit")
	assert.LessOrEqual(t, rec.Quantity, 10.0)
}

func TestPlanSkipsTinyDeltas(t *testing.T) {
	f := newEngineFixture(t, stubFX{})
	f.seedSecurity(t, "TINY", "EUR", 1, true, true)
	f.seedPrice(t, "TINY", 100)

	summary := &portfolio.Summary{
		TotalValueEUR:  10000,
		CashEUR:        1000,
		CashByCurrency: map[string]float64{"EUR": 1000},
		BySymbol:       map[string]float64{"TINY": 0.10},
	}
	ideal := map[string]float64{"TINY": 0.10005}

	recs, err := f.engine.Plan(ideal, summary, "", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPlanRespectsAllowFlags(t *testing.T) {
	f := newEngineFixture(t, stubFX{})
	f.seedSecurity(t, "NOBUY", "EUR", 1, false, true)
	f.seedPrice(t, "NOBUY", 100)

	summary := &portfolio.Summary{
		TotalValueEUR:  10000,
		CashEUR:        5000,
		CashByCurrency: map[string]float64{"EUR": 5000},
		BySymbol:       map[string]float64{},
	}

	recs, err := f.engine.Plan(map[string]float64{"NOBUY": 0.2}, summary, "", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPlanMinTradeValueOverride(t *testing.T) {
	f := newEngineFixture(t, stubFX{})
	f.seedSecurity(t, "SMALL", "EUR", 1, true, true)
	f.seedPrice(t, "SMALL", 30)

	summary := &portfolio.Summary{
		TotalValueEUR:  10000,
		CashEUR:        500,
		CashByCurrency: map[string]float64{"EUR": 500},
		BySymbol:       map[string]float64{},
	}
	// Gap of 0.6% → 60 EUR, below the 100 EUR default minimum
	ideal := map[string]float64{"SMALL": 0.006}

	recs, err := f.engine.Plan(ideal, summary, "", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	lower := 25.0
	recs, err = f.engine.Plan(ideal, summary, "", &lower)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2.0, recs[0].Quantity)
}
