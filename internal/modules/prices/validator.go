package prices

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/pkg/formulas"
)

const (
	// Minimum history before anomaly checks have any statistical meaning
	minHistoryForValidation = 20

	// Window of recent closes the current price is compared against
	recentWindow = 30

	// A price more than spikeFactor away from the recent median is flagged
	spikeFactor = 3.0

	// Single-day moves beyond this fraction are treated as data corruption
	// when the series reverts on the next bar
	corruptionMove = 0.60
)

// Validator flags anomalous quotes and repairs corrupt historical series.
// Flagged prices are treated as missing data, never as trade signals.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a new price validator
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log.With().Str("service", "price_validator").Logger()}
}

// IsAnomalous reports whether a current price looks wrong against recent
// history. Too little history passes the price through unflagged.
func (v *Validator) IsAnomalous(current float64, closes []float64) (bool, string) {
	if current <= 0 {
		return true, "non-positive price"
	}
	if len(closes) < minHistoryForValidation {
		return false, ""
	}

	recent := closes
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}

	med := median(recent)
	if med > 0 {
		if current > med*spikeFactor {
			return true, fmt.Sprintf("price %.2f is %.1fx the recent median %.2f", current, current/med, med)
		}
		if current < med/spikeFactor {
			return true, fmt.Sprintf("price %.2f is %.1fx below the recent median %.2f", current, med/current, med)
		}
	}

	// z-score of the implied move against recent daily dispersion
	returns := formulas.CalculateReturns(recent)
	if len(returns) >= 2 {
		sd := formulas.StdDev(returns)
		last := recent[len(recent)-1]
		if sd > 0 && last > 0 {
			move := (current - last) / last
			if z := move / sd; z > 6 || z < -6 {
				return true, fmt.Sprintf("move %.1f%% is %.1f sigma against recent volatility", move*100, z)
			}
		}
	}

	return false, ""
}

// CleanSeries repairs a historical series in place order: non-positive
// closes and one-bar spikes that immediately revert are replaced by linear
// interpolation of their neighbors. Bars must be in ascending date order.
func (v *Validator) CleanSeries(bars []domain.PriceBar) []domain.PriceBar {
	if len(bars) < 3 {
		return bars
	}

	cleaned := make([]domain.PriceBar, len(bars))
	copy(cleaned, bars)

	repaired := 0
	for i := 1; i < len(cleaned)-1; i++ {
		prev := cleaned[i-1].Close
		cur := cleaned[i].Close
		next := cleaned[i+1].Close

		corrupt := cur <= 0
		if !corrupt && prev > 0 && next > 0 {
			moveIn := (cur - prev) / prev
			moveOut := (next - cur) / cur
			// A huge move that immediately reverses is a bad tick
			if (moveIn > corruptionMove && moveOut < -corruptionMove/2) ||
				(moveIn < -corruptionMove && moveOut > corruptionMove/2) {
				corrupt = true
			}
		}

		if corrupt && prev > 0 && next > 0 {
			interpolated := (prev + next) / 2
			cleaned[i].Close = interpolated
			if cleaned[i].Open <= 0 || cleaned[i].Open == cur {
				cleaned[i].Open = interpolated
			}
			if cleaned[i].High < interpolated {
				cleaned[i].High = interpolated
			}
			if cleaned[i].Low <= 0 || cleaned[i].Low > interpolated {
				cleaned[i].Low = interpolated
			}
			repaired++
		}
	}

	if repaired > 0 {
		v.log.Debug().Int("repaired", repaired).Str("symbol", bars[0].Symbol).Msg("Repaired corrupt price bars")
	}
	return cleaned
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
