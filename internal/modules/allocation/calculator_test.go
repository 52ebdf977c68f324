package allocation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/universe"
)

type stubView struct {
	summary *portfolio.Summary
}

func (v *stubView) GetSummary() (*portfolio.Summary, error) {
	if v.summary != nil {
		return v.summary, nil
	}
	return &portfolio.Summary{CashByCurrency: map[string]float64{}}, nil
}

func newTestCalculator(t *testing.T) (*Calculator, *universe.SecurityRepository, *scoring.Repository) {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	conn := db.Conn()
	securities := universe.NewSecurityRepository(conn, log)
	scores := scoring.NewRepository(conn, log)
	targets := NewTargetRepository(conn, log)
	settingsRepo := settings.NewRepository(conn, log)

	calc := NewCalculator(securities, scores, targets, &stubView{}, nil, nil, settingsRepo, nil, log)
	return calc, securities, scores
}

func seedSecurity(t *testing.T, repo *universe.SecurityRepository, symbol string, multiplier float64) {
	t.Helper()
	require.NoError(t, repo.Upsert(universe.Security{
		Symbol:         symbol,
		Name:           symbol,
		Currency:       "EUR",
		MinLot:         1,
		Active:         true,
		AllowBuy:       true,
		AllowSell:      true,
		UserMultiplier: multiplier,
	}))
}

func TestIdealAllocationFromScores(t *testing.T) {
	calc, securities, scores := newTestCalculator(t)

	seedSecurity(t, securities, "AAA", 1.0)
	seedSecurity(t, securities, "BBB", 1.0)
	seedSecurity(t, securities, "CCC", 1.0)
	require.NoError(t, scores.Create("AAA", 0.8, nil))
	require.NoError(t, scores.Create("BBB", 0.4, nil))
	require.NoError(t, scores.Create("CCC", 0.2, nil))

	ideal, err := calc.IdealAllocation("")
	require.NoError(t, err)
	require.Len(t, ideal, 3)

	sum := 0.0
	for symbol, w := range ideal {
		assert.Greater(t, w, 0.0, symbol)
		assert.GreaterOrEqual(t, w, 0.02, symbol)
		assert.LessOrEqual(t, w, 0.20, symbol)
		sum += w
	}
	// Clamping keeps every position inside the band; the rest stays in cash
	assert.LessOrEqual(t, sum, 0.95+1e-6)
	assert.Greater(t, ideal["AAA"], ideal["BBB"])
	assert.Greater(t, ideal["BBB"], ideal["CCC"])
}

func TestIdealAllocationWeightBand(t *testing.T) {
	calc, securities, scores := newTestCalculator(t)

	symbols := []string{"S1X", "S2X", "S3X", "S4X", "S5X", "S6X", "S7X", "S8X"}
	for i, symbol := range symbols {
		seedSecurity(t, securities, symbol, 1.0)
		require.NoError(t, scores.Create(symbol, 0.1+0.1*float64(i), nil))
	}

	ideal, err := calc.IdealAllocation("")
	require.NoError(t, err)
	require.Len(t, ideal, len(symbols))

	sum := 0.0
	for symbol, w := range ideal {
		assert.GreaterOrEqual(t, w, 0.02, symbol)
		assert.LessOrEqual(t, w, 0.20, symbol)
		sum += w
	}
	assert.LessOrEqual(t, sum, 0.95+1e-6)
}

func TestIdealAllocationZeroScoreExcluded(t *testing.T) {
	calc, securities, scores := newTestCalculator(t)

	seedSecurity(t, securities, "GOOD", 1.0)
	seedSecurity(t, securities, "DEAD", 1.0)
	require.NoError(t, scores.Create("GOOD", 0.6, nil))
	require.NoError(t, scores.Create("DEAD", 0.0, nil))

	ideal, err := calc.IdealAllocation("")
	require.NoError(t, err)

	assert.Contains(t, ideal, "GOOD")
	assert.NotContains(t, ideal, "DEAD")
}

func TestIdealAllocationConvictionKeepsZeroScore(t *testing.T) {
	calc, securities, scores := newTestCalculator(t)

	seedSecurity(t, securities, "GOOD", 1.0)
	seedSecurity(t, securities, "HELD", 1.5)
	require.NoError(t, scores.Create("GOOD", 0.6, nil))
	require.NoError(t, scores.Create("HELD", 0.0, nil))

	ideal, err := calc.IdealAllocation("")
	require.NoError(t, err)

	// A conviction multiplier above 1 force-keeps the symbol
	assert.Contains(t, ideal, "HELD")
}

func TestIdealAllocationEmptyUniverse(t *testing.T) {
	calc, _, _ := newTestCalculator(t)

	ideal, err := calc.IdealAllocation("")
	require.NoError(t, err)
	assert.Empty(t, ideal)
}

func TestIdealAllocationMultiplierTiltsWeights(t *testing.T) {
	calc, securities, scores := newTestCalculator(t)

	seedSecurity(t, securities, "FLAT", 1.0)
	seedSecurity(t, securities, "CONV", 1.4)
	require.NoError(t, scores.Create("FLAT", 0.5, nil))
	require.NoError(t, scores.Create("CONV", 0.5, nil))

	ideal, err := calc.IdealAllocation("")
	require.NoError(t, err)

	// Same score, higher conviction → larger weight
	assert.Greater(t, ideal["CONV"], ideal["FLAT"])
}
