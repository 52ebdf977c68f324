package currency

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/modules/cache"
)

const (
	rateCacheTTL = 2 * time.Hour
	rateCacheKey = "fx:rates_to_eur"
)

// Last-resort rates applied only when both the broker and the cache fail.
var defaultRates = map[string]float64{
	"USD": 0.92,
	"GBP": 1.17,
	"HKD": 0.118,
	"CHF": 1.06,
	"JPY": 0.0062,
}

// RateFetcher is the broker surface the converter needs
type RateFetcher interface {
	GetRatesToEUR(currencies []string) (map[string]float64, error)
	GetRatesToEURForDate(currencies []string, date string) (map[string]float64, error)
}

// Service converts between currencies using EUR as the pivot.
// Cross-rate rule: rate(a→b) = rate(a→EUR) / rate(b→EUR).
type Service struct {
	fetcher RateFetcher
	repo    *RateRepository
	cache   *cache.Repository
	log     zerolog.Logger

	mu        sync.Mutex
	rates     map[string]float64 // ccy → EUR
	fetchedAt time.Time
}

// NewService creates a new currency service
func NewService(fetcher RateFetcher, repo *RateRepository, cacheRepo *cache.Repository, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		repo:    repo,
		cache:   cacheRepo,
		log:     log.With().Str("service", "currency").Logger(),
		rates:   make(map[string]float64),
	}
}

// Rate returns the current 1 ccy = r EUR rate. Unknown currencies resolve
// to 1.0 with a warning so a single bad row never aborts a planning pass.
func (s *Service) Rate(ccy string) float64 {
	ccy = strings.ToUpper(ccy)
	if ccy == "EUR" || ccy == "" {
		return 1.0
	}

	rates := s.currentRates()
	if rate, ok := rates[ccy]; ok && rate > 0 {
		return rate
	}

	s.log.Warn().Str("currency", ccy).Msg("Unknown currency, assuming 1.0")
	return 1.0
}

// ToEUR converts an amount from a currency into EUR
func (s *Service) ToEUR(amount float64, ccy string) float64 {
	return amount * s.Rate(ccy)
}

// FromEUR converts an EUR amount into a currency
func (s *Service) FromEUR(amount float64, ccy string) float64 {
	rate := s.Rate(ccy)
	if rate == 0 {
		return amount
	}
	return amount / rate
}

// Convert converts between two currencies, composing through EUR
func (s *Service) Convert(amount float64, from, to string) float64 {
	if strings.EqualFold(from, to) {
		return amount
	}
	return s.FromEUR(s.ToEUR(amount, from), to)
}

// RateForDate returns the ccy→EUR rate for a specific date. Checks the
// per-date FX table first; on miss, fetches from the broker and upserts.
func (s *Service) RateForDate(ccy, date string) float64 {
	ccy = strings.ToUpper(ccy)
	if ccy == "EUR" || ccy == "" {
		return 1.0
	}

	stored, err := s.repo.GetRate(date, ccy)
	if err != nil {
		s.log.Warn().Err(err).Str("currency", ccy).Str("date", date).Msg("FX history read failed")
	}
	if stored != nil {
		return *stored
	}

	fetched, err := s.fetcher.GetRatesToEURForDate([]string{ccy}, date)
	if err == nil {
		if rate, ok := fetched[ccy]; ok && rate > 0 {
			if err := s.repo.Upsert(date, ccy, rate); err != nil {
				s.log.Warn().Err(err).Msg("Failed to store fetched FX rate")
			}
			return rate
		}
	} else {
		s.log.Debug().Err(err).Str("currency", ccy).Str("date", date).Msg("Historical FX fetch failed")
	}

	// Fall back to the current rate
	return s.Rate(ccy)
}

// PrefetchRates fills the per-date FX table for the given currencies and
// dates, one broker request per missing date covering all currencies.
func (s *Service) PrefetchRates(currencies []string, dates []string) error {
	filtered := make([]string, 0, len(currencies))
	for _, ccy := range currencies {
		if !strings.EqualFold(ccy, "EUR") {
			filtered = append(filtered, strings.ToUpper(ccy))
		}
	}
	if len(filtered) == 0 || len(dates) == 0 {
		return nil
	}

	complete, err := s.repo.GetDatesWithRates(dates, filtered)
	if err != nil {
		return err
	}

	for _, date := range dates {
		if complete[date] {
			continue
		}
		fetched, err := s.fetcher.GetRatesToEURForDate(filtered, date)
		if err != nil {
			s.log.Debug().Err(err).Str("date", date).Msg("FX prefetch failed for date")
			continue
		}
		for ccy, rate := range fetched {
			if rate <= 0 {
				continue
			}
			if err := s.repo.Upsert(date, ccy, rate); err != nil {
				s.log.Warn().Err(err).Str("date", date).Str("currency", ccy).Msg("FX prefetch upsert failed")
			}
		}
	}
	return nil
}

// currentRates returns the live rate map, refreshing it when the in-memory
// copy is older than the TTL. Failures degrade: TTL store entry, then the
// most recent per-currency history, then the static defaults table.
func (s *Service) currentRates() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) < rateCacheTTL && len(s.rates) > 0 {
		return s.rates
	}

	currencies := knownCurrencies()

	fetched, err := s.fetcher.GetRatesToEUR(currencies)
	if err == nil && len(fetched) > 0 {
		s.rates = fetched
		s.fetchedAt = time.Now()
		if s.cache != nil {
			if cerr := s.cache.Set(rateCacheKey, fetched, rateCacheTTL); cerr != nil {
				s.log.Warn().Err(cerr).Msg("Failed to persist FX rates to cache")
			}
		}
		return s.rates
	}
	s.log.Debug().Err(err).Msg("Live FX fetch failed, falling back")

	// TTL-backed store entry
	if s.cache != nil {
		var cached map[string]float64
		if ok, _ := s.cache.Get(rateCacheKey, &cached); ok && len(cached) > 0 {
			s.rates = cached
			s.fetchedAt = time.Now()
			return s.rates
		}
	}

	// Most recent historical rate per currency
	recovered := make(map[string]float64)
	for _, ccy := range currencies {
		if latest, err := s.repo.GetLatestRate(ccy); err == nil && latest != nil {
			recovered[ccy] = *latest
		}
	}
	if len(recovered) > 0 {
		s.rates = recovered
		return s.rates
	}

	// Static defaults as the last resort; never written to the cache
	s.log.Warn().Msg("No FX source available, using default rates")
	s.rates = make(map[string]float64, len(defaultRates))
	for ccy, rate := range defaultRates {
		s.rates[ccy] = rate
	}
	return s.rates
}

func knownCurrencies() []string {
	currencies := make([]string, 0, len(defaultRates))
	for ccy := range defaultRates {
		currencies = append(currencies, ccy)
	}
	return currencies
}
