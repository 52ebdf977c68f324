package jobs

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/cashflows"
	"github.com/aristath/sentinel/internal/modules/trading"
)

func TestSettleExecutedDrainsDividendPools(t *testing.T) {
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	pools := cashflows.NewPoolRepository(db.Conn(), log)
	require.NoError(t, pools.Add("AAPL.US", 42.5))
	require.NoError(t, pools.Add("MSFT.US", 10))
	require.NoError(t, pools.Add("ASML.EU", 7))

	bus := events.NewManager(log)
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	d := Deps{Pools: pools, Events: bus, Log: log}
	placed := settleExecuted(d, []trading.ExecutionResult{
		{Symbol: "AAPL.US", Side: "BUY", OrderID: "ord-1"},
		{Symbol: "MSFT.US", Side: "BUY", Skipped: true, Reason: "daily trade limit reached (4)"},
		{Symbol: "ASML.EU", Side: "SELL", OrderID: "ord-2"},
	})
	assert.Equal(t, 2, placed)

	// Only the executed buy consumed its pooled dividend cash
	remaining, err := pools.GetAll()
	require.NoError(t, err)
	assert.NotContains(t, remaining, "AAPL.US")
	assert.InDelta(t, 10, remaining["MSFT.US"], 1e-9)
	assert.InDelta(t, 7, remaining["ASML.EU"], 1e-9)

	executed := <-ch
	assert.Equal(t, events.TradeExecuted, executed.Type)
	assert.Equal(t, "AAPL.US", executed.Data["symbol"])

	skipped := <-ch
	assert.Equal(t, events.TradeSkipped, skipped.Type)
	assert.Equal(t, "MSFT.US", skipped.Data["symbol"])
}

func TestDividendSymbol(t *testing.T) {
	tests := []struct {
		comment string
		want    string
	}{
		{"Dividend AAPL.US 2026-08-01", "AAPL.US"},
		{"dividend payment MSFT.US", "MSFT.US"},
		{"Tax withheld", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			assert.Equal(t, tt.want, dividendSymbol(tt.comment))
		})
	}
}
