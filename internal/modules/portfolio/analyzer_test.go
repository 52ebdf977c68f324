package portfolio

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/modules/universe"
)

type eurConverter struct {
	rates map[string]float64
}

func (c eurConverter) Rate(ccy string) float64 {
	if ccy == "EUR" || ccy == "" {
		return 1.0
	}
	if r, ok := c.rates[ccy]; ok {
		return r
	}
	return 1.0
}

func (c eurConverter) ToEUR(amount float64, ccy string) float64 { return amount * c.Rate(ccy) }

type stubTargets struct {
	byKind map[string]map[string]float64
}

func (s stubTargets) GetNormalized(kind string) (map[string]float64, error) {
	return s.byKind[kind], nil
}

func TestValueAndPnL(t *testing.T) {
	conv := eurConverter{rates: map[string]float64{"USD": 0.9}}

	local, eur := Value(10, 150, "USD", conv)
	assert.InDelta(t, 1500, local, 1e-9)
	assert.InDelta(t, 1350, eur, 1e-9)

	abs, pct := UnrealizedPnL(10, 150, 100)
	assert.InDelta(t, 500, abs, 1e-9)
	assert.InDelta(t, 0.5, pct, 1e-9)

	abs, pct = UnrealizedPnL(10, 150, 0)
	assert.InDelta(t, 1500, abs, 1e-9)
	assert.Zero(t, pct)

	assert.Zero(t, AllocationPct(100, 0))
	assert.InDelta(t, 0.25, AllocationPct(25, 100), 1e-9)
}

func newAnalyzerFixture(t *testing.T, targets TargetSource) (*Analyzer, *PositionRepository, *CashRepository, *universe.SecurityRepository) {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	conn := db.Conn()
	positions := NewPositionRepository(conn, log)
	cash := NewCashRepository(conn, log)
	securities := universe.NewSecurityRepository(conn, log)
	analyzer := NewAnalyzer(positions, cash, securities, targets,
		eurConverter{rates: map[string]float64{"USD": 0.9}}, log)
	return analyzer, positions, cash, securities
}

func TestGetSummaryAllocations(t *testing.T) {
	targets := stubTargets{byKind: map[string]map[string]float64{
		"geography": {"US": 0.6, "EU": 0.4},
		"industry":  {},
	}}
	analyzer, positions, cash, securities := newAnalyzerFixture(t, targets)

	require.NoError(t, securities.Upsert(universe.Security{
		Symbol: "AAPL", Name: "Apple", Currency: "USD", Geography: "US",
		MinLot: 1, Active: true, AllowBuy: true, AllowSell: true, UserMultiplier: 1.0,
	}))
	require.NoError(t, securities.Upsert(universe.Security{
		Symbol: "ASML", Name: "ASML", Currency: "EUR", Geography: "EU,US",
		MinLot: 1, Active: true, AllowBuy: true, AllowSell: true, UserMultiplier: 1.0,
	}))

	boughtAt := time.Now().AddDate(0, 0, -100).Unix()
	require.NoError(t, positions.Upsert(Position{
		Symbol: "AAPL", Quantity: 10, AverageCost: 100, CurrentPrice: 200,
		Currency: "USD", FirstBoughtAt: &boughtAt,
	}))
	require.NoError(t, positions.Upsert(Position{
		Symbol: "ASML", Quantity: 2, AverageCost: 500, CurrentPrice: 600,
		Currency: "EUR", FirstBoughtAt: &boughtAt,
	}))
	require.NoError(t, cash.Set("EUR", 1000))
	require.NoError(t, cash.Set("USD", 100))

	summary, err := analyzer.GetSummary()
	require.NoError(t, err)

	// AAPL 10×200×0.9 = 1800, ASML 2×600 = 1200, cash 1000 + 90
	assert.InDelta(t, 1090, summary.CashEUR, 1e-9)
	assert.InDelta(t, 3000, summary.PositionsValueEUR, 1e-9)
	assert.InDelta(t, 4090, summary.TotalValueEUR, 1e-9)

	assert.InDelta(t, 1800.0/4090, summary.BySymbol["AAPL"], 1e-9)
	assert.InDelta(t, 1200.0/4090, summary.BySymbol["ASML"], 1e-9)

	// ASML's value splits equally between its two geography tags
	byName := make(map[string]Allocation)
	for _, a := range summary.ByGeography {
		byName[a.Name] = a
	}
	require.Contains(t, byName, "US")
	require.Contains(t, byName, "EU")
	assert.InDelta(t, 1800+600, byName["US"].ValueEUR, 1e-9)
	assert.InDelta(t, 600, byName["EU"].ValueEUR, 1e-9)
	assert.InDelta(t, byName["US"].CurrentPct-0.6, byName["US"].Deviation, 1e-9)
}

func TestRebalanceSummaryBuckets(t *testing.T) {
	analyzer, positions, cash, securities := newAnalyzerFixture(t, stubTargets{})

	require.NoError(t, securities.Upsert(universe.Security{
		Symbol: "DRIFT", Name: "Drift", Currency: "EUR",
		MinLot: 1, Active: true, AllowBuy: true, AllowSell: true, UserMultiplier: 1.0,
	}))
	boughtAt := time.Now().AddDate(0, 0, -10).Unix()
	require.NoError(t, positions.Upsert(Position{
		Symbol: "DRIFT", Quantity: 30, AverageCost: 100, CurrentPrice: 100,
		Currency: "EUR", FirstBoughtAt: &boughtAt,
	}))
	require.NoError(t, cash.Set("EUR", 7000))

	// Current 30%, target 10%: 20pp drift lands in the rebalance bucket
	rows, err := analyzer.RebalanceSummary(map[string]float64{"DRIFT": 0.10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, BucketRebalance, rows[0].Bucket)

	rows, err = analyzer.RebalanceSummary(map[string]float64{"DRIFT": 0.24})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, BucketMinorDrift, rows[0].Bucket)

	rows, err = analyzer.RebalanceSummary(map[string]float64{"DRIFT": 0.29})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, BucketAligned, rows[0].Bucket)
}
