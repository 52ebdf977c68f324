package allocation

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/modules/cache"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/universe"
)

const (
	idealCacheKey = "allocation:ideal"
	idealCacheTTL = 10 * time.Minute
)

// MLScoreSource supplies external model scores. Any error means "no ML
// opinion" and the calculator continues with wavelet-only scores.
type MLScoreSource interface {
	GetScores(symbols []string) (map[string]float64, error)
}

// PortfolioView is the analyzer surface the calculator needs
type PortfolioView interface {
	GetSummary() (*portfolio.Summary, error)
}

// DividendPools supplies per-symbol uninvested dividend amounts
type DividendPools interface {
	GetAll() (map[string]float64, error)
}

// Calculator computes ideal portfolio weights from scores, conviction
// multipliers, diversification pressure, and dividend pools.
type Calculator struct {
	securities *universe.SecurityRepository
	scores     *scoring.Repository
	targets    *TargetRepository
	analyzer   PortfolioView
	ml         MLScoreSource
	pools      DividendPools
	settings   *settings.Repository
	cache      *cache.Repository
	log        zerolog.Logger
}

// NewCalculator creates a new allocation calculator
func NewCalculator(
	securities *universe.SecurityRepository,
	scores *scoring.Repository,
	targets *TargetRepository,
	analyzer PortfolioView,
	ml MLScoreSource,
	pools DividendPools,
	settingsRepo *settings.Repository,
	cacheRepo *cache.Repository,
	log zerolog.Logger,
) *Calculator {
	return &Calculator{
		securities: securities,
		scores:     scores,
		targets:    targets,
		analyzer:   analyzer,
		ml:         ml,
		pools:      pools,
		settings:   settingsRepo,
		cache:      cacheRepo,
		log:        log.With().Str("service", "allocation").Logger(),
	}
}

// IdealAllocation returns symbol → target weight. The result is cached 10
// minutes for live calls; a non-empty asOf (backtest) skips the cache.
func (c *Calculator) IdealAllocation(asOf string) (map[string]float64, error) {
	live := asOf == ""
	if live && c.cache != nil {
		var cached map[string]float64
		if ok, _ := c.cache.Get(idealCacheKey, &cached); ok && len(cached) > 0 {
			return cached, nil
		}
	}

	ideal, err := c.compute()
	if err != nil {
		return nil, err
	}

	if live && c.cache != nil {
		if cerr := c.cache.Set(idealCacheKey, ideal, idealCacheTTL); cerr != nil {
			c.log.Warn().Err(cerr).Msg("Failed to cache ideal allocation")
		}
	}
	return ideal, nil
}

func (c *Calculator) compute() (map[string]float64, error) {
	securities, err := c.securities.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load securities: %w", err)
	}
	if len(securities) == 0 {
		return map[string]float64{}, nil
	}

	latestScores, err := c.scores.GetLatestAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}

	symbols := make([]string, 0, len(securities))
	for _, s := range securities {
		symbols = append(symbols, s.Symbol)
	}

	// ML scores are a best-effort enrichment
	var mlScores map[string]float64
	if c.ml != nil {
		if fetched, err := c.ml.GetScores(symbols); err == nil {
			mlScores = fetched
		} else {
			c.log.Debug().Err(err).Msg("ML scores unavailable, using wavelet-only")
		}
	}

	adjusted := make(map[string]float64, len(securities))
	for _, sec := range securities {
		score := 0.0
		if s, ok := latestScores[sec.Symbol]; ok {
			score = s.Score
		}
		if ml, ok := mlScores[sec.Symbol]; ok {
			score = score*0.7 + ml*0.3
		}
		// Conviction curve: squared so the adjustment is nonlinear.
		// 1.0 neutral, above bullish, below bearish, 0 excludes.
		adjusted[sec.Symbol] = score * sec.UserMultiplier * sec.UserMultiplier
	}

	if err := c.applyDiversification(securities, adjusted); err != nil {
		c.log.Warn().Err(err).Msg("Diversification adjustment skipped")
	}
	c.applyDividendBoost(adjusted)

	// Drop non-positive scores unless conviction force-keeps them
	secMap := make(map[string]universe.Security, len(securities))
	for _, s := range securities {
		secMap[s.Symbol] = s
	}
	positive := make(map[string]float64)
	for symbol, score := range adjusted {
		if score > 0 || secMap[symbol].UserMultiplier > 1 {
			positive[symbol] = score
		}
	}
	if len(positive) == 0 {
		return map[string]float64{}, nil
	}

	return c.weigh(positive), nil
}

// applyDiversification tilts scores toward under-represented tags. The
// per-security deviation is the mean of (target − current) over its tags,
// clamped to [−1, 1].
func (c *Calculator) applyDiversification(securities []universe.Security, scores map[string]float64) error {
	impact := c.settings.GetFloat(settings.KeyDiversificationImpact) / 100.0
	if impact <= 0 {
		return nil
	}

	summary, err := c.analyzer.GetSummary()
	if err != nil {
		return err
	}

	geoCurrent, geoTarget := allocationMaps(summary.ByGeography)
	indCurrent, indTarget := allocationMaps(summary.ByIndustry)

	for _, sec := range securities {
		var deviations []float64
		for _, tag := range sec.Countries() {
			deviations = append(deviations, geoTarget[tag]-geoCurrent[tag])
		}
		for _, tag := range sec.Industries() {
			deviations = append(deviations, indTarget[tag]-indCurrent[tag])
		}
		if len(deviations) == 0 {
			continue
		}

		mean := 0.0
		for _, d := range deviations {
			mean += d
		}
		mean /= float64(len(deviations))
		mean = math.Max(-1, math.Min(1, mean))

		scores[sec.Symbol] *= 1 + impact*mean
	}
	return nil
}

func allocationMaps(allocations []portfolio.Allocation) (current, target map[string]float64) {
	current = make(map[string]float64, len(allocations))
	target = make(map[string]float64, len(allocations))
	for _, a := range allocations {
		current[a.Name] = a.CurrentPct
		target[a.Name] = a.TargetPct
	}
	return current, target
}

// applyDividendBoost bumps securities with uninvested dividend pools,
// proportionally to their pool share and capped at the configured maximum.
func (c *Calculator) applyDividendBoost(scores map[string]float64) {
	if c.pools == nil {
		return
	}
	pools, err := c.pools.GetAll()
	if err != nil {
		c.log.Warn().Err(err).Msg("Dividend pools unavailable")
		return
	}
	if len(pools) == 0 {
		return
	}

	total := 0.0
	for _, amount := range pools {
		total += amount
	}
	if total <= 0 {
		return
	}

	maxBoost := c.settings.GetFloat(settings.KeyMaxDividendBoost)
	for symbol, amount := range pools {
		if _, held := scores[symbol]; !held {
			continue
		}
		boost := math.Min(maxBoost, maxBoost*amount/total)
		scores[symbol] += boost
	}
}

// weigh converts positive scores into weights: min-max normalize, square
// (norm + 0.1) to stretch differentiation, spread 1 − cash_target across
// the result, then clamp to the per-position band. When clamping leaves
// headroom the remainder stays in cash rather than breaching the band.
func (c *Calculator) weigh(scores map[string]float64) map[string]float64 {
	minScore, maxScore := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		minScore = math.Min(minScore, s)
		maxScore = math.Max(maxScore, s)
	}

	weights := make(map[string]float64, len(scores))
	weightSum := 0.0
	for symbol, s := range scores {
		norm := 1.0
		if maxScore > minScore {
			norm = (s - minScore) / (maxScore - minScore)
		}
		w := (norm + 0.1) * (norm + 0.1)
		weights[symbol] = w
		weightSum += w
	}

	investable := 1 - c.settings.GetFloat(settings.KeyTargetCashPct)/100.0
	minPct := c.settings.GetFloat(settings.KeyMinPositionPct) / 100.0
	maxPct := c.settings.GetFloat(settings.KeyMaxPositionPct) / 100.0

	clampedSum := 0.0
	for symbol, w := range weights {
		target := investable * w / weightSum
		target = math.Max(minPct, math.Min(maxPct, target))
		weights[symbol] = target
		clampedSum += target
	}

	// Scale down when clamping overshot the investable fraction; never scale
	// up past the per-position cap.
	if clampedSum > investable && clampedSum > 0 {
		factor := investable / clampedSum
		for symbol := range weights {
			weights[symbol] *= factor
		}
	}

	return weights
}
