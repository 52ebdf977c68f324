package cashflows

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func sampleFlow() CashFlow {
	return CashFlow{
		Date:     "2024-03-15",
		Type:     TypeDividend,
		Amount:   12.50,
		Currency: "USD",
		Comment:  "Dividend AAPL 12.50 USD",
	}
}

func TestCreateDeduplicatesByContent(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn(), zerolog.Nop())

	inserted, err := repo.Create(sampleFlow())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Create(sampleFlow())
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateDistinguishesAmounts(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn(), zerolog.Nop())

	first := sampleFlow()
	second := sampleFlow()
	second.Amount = 13.00

	_, err := repo.Create(first)
	require.NoError(t, err)
	inserted, err := repo.Create(second)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSumByType(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn(), zerolog.Nop())

	flows := []CashFlow{
		{Date: "2024-01-01", Type: TypeDeposit, Amount: 1000, Currency: "EUR"},
		{Date: "2024-02-01", Type: TypeDeposit, Amount: 500, Currency: "EUR"},
		{Date: "2024-02-15", Type: TypeDeposit, Amount: 200, Currency: "USD"},
		{Date: "2024-03-01", Type: TypeWithdrawal, Amount: 300, Currency: "EUR"},
	}
	for _, f := range flows {
		_, err := repo.Create(f)
		require.NoError(t, err)
	}

	sums, err := repo.SumByType(TypeDeposit)
	require.NoError(t, err)
	assert.InDelta(t, 1500, sums["EUR"], 1e-9)
	assert.InDelta(t, 200, sums["USD"], 1e-9)
}

func TestPoolAccumulatesAndDrains(t *testing.T) {
	pools := NewPoolRepository(newTestDB(t).Conn(), zerolog.Nop())

	require.NoError(t, pools.Add("AAPL", 10))
	require.NoError(t, pools.Add("AAPL", 5.5))
	require.NoError(t, pools.Add("MSFT", 3))

	all, err := pools.GetAll()
	require.NoError(t, err)
	assert.InDelta(t, 15.5, all["AAPL"], 1e-9)
	assert.InDelta(t, 3, all["MSFT"], 1e-9)

	require.NoError(t, pools.Drain("AAPL"))
	all, err = pools.GetAll()
	require.NoError(t, err)
	_, ok := all["AAPL"]
	assert.False(t, ok)
	assert.InDelta(t, 3, all["MSFT"], 1e-9)
}

func TestDetectDividendCut(t *testing.T) {
	tests := []struct {
		name     string
		payments []float64
		cut      bool
	}{
		{"deep cut", []float64{1.00, 0.60}, true},
		{"small decline", []float64{1.00, 0.90}, false},
		{"exactly at threshold", []float64{1.00, 0.75}, false},
		{"just past threshold", []float64{1.00, 0.7499}, true},
		{"increase", []float64{1.00, 1.20}, false},
		{"single payment", []float64{1.00}, false},
		{"zero baseline", []float64{0, 0.50}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cut, _ := DetectDividendCut(tt.payments, 0.25)
			assert.Equal(t, tt.cut, cut)
		})
	}
}
