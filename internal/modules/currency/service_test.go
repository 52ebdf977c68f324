package currency

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/database"
)

type stubFetcher struct {
	rates  map[string]float64
	byDate map[string]map[string]float64
	fail   bool
}

func (f *stubFetcher) GetRatesToEUR(currencies []string) (map[string]float64, error) {
	if f.fail {
		return nil, errors.New("broker unavailable")
	}
	return f.rates, nil
}

func (f *stubFetcher) GetRatesToEURForDate(currencies []string, date string) (map[string]float64, error) {
	if f.fail {
		return nil, errors.New("broker unavailable")
	}
	if rates, ok := f.byDate[date]; ok {
		return rates, nil
	}
	return f.rates, nil
}

func newTestService(t *testing.T, fetcher *stubFetcher) *Service {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	return NewService(fetcher, NewRateRepository(db.Conn(), log), nil, log)
}

func TestCrossRateConsistency(t *testing.T) {
	svc := newTestService(t, &stubFetcher{rates: map[string]float64{
		"USD": 0.92,
		"GBP": 1.17,
		"HKD": 0.118,
	}})

	currencies := []string{"EUR", "USD", "GBP", "HKD"}
	cross := func(from, to string) float64 { return svc.Convert(1, from, to) }

	for _, a := range currencies {
		for _, b := range currencies {
			assert.InDelta(t, 1.0, cross(a, b)*cross(b, a), 1e-3, "%s/%s round trip", a, b)
			for _, c := range currencies {
				assert.InDelta(t, cross(a, c), cross(a, b)*cross(b, c), 1e-2, "%s→%s→%s", a, b, c)
			}
		}
	}
}

func TestRateEURIdentity(t *testing.T) {
	svc := newTestService(t, &stubFetcher{rates: map[string]float64{"USD": 0.92}})

	assert.Equal(t, 1.0, svc.Rate("EUR"))
	assert.Equal(t, 1.0, svc.Rate(""))
	assert.Equal(t, 100.0, svc.ToEUR(100, "EUR"))
}

func TestUnknownCurrencyFallsBackToUnity(t *testing.T) {
	svc := newTestService(t, &stubFetcher{rates: map[string]float64{"USD": 0.92}})

	assert.Equal(t, 1.0, svc.Rate("XYZ"))
}

func TestRateFallsBackToDefaultsWhenOffline(t *testing.T) {
	svc := newTestService(t, &stubFetcher{fail: true})

	// No broker, no cache, no history: static defaults apply
	assert.InDelta(t, 0.92, svc.Rate("USD"), 1e-9)
	assert.Greater(t, svc.Rate("GBP"), 1.0)
}

func TestRateForDatePrefersStoredHistory(t *testing.T) {
	fetcher := &stubFetcher{
		rates: map[string]float64{"USD": 0.92},
		byDate: map[string]map[string]float64{
			"2024-03-01": {"USD": 0.88},
		},
	}
	svc := newTestService(t, fetcher)

	// First read fetches and stores
	assert.InDelta(t, 0.88, svc.RateForDate("USD", "2024-03-01"), 1e-9)

	// Second read must come from the table even if the broker goes away
	fetcher.fail = true
	assert.InDelta(t, 0.88, svc.RateForDate("USD", "2024-03-01"), 1e-9)
}

func TestConvertSameCurrency(t *testing.T) {
	svc := newTestService(t, &stubFetcher{rates: map[string]float64{"USD": 0.92}})

	assert.Equal(t, 42.0, svc.Convert(42, "USD", "USD"))
	assert.False(t, math.IsNaN(svc.Convert(0, "USD", "GBP")))
}
