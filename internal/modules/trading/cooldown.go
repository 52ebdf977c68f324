package trading

import (
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// CheckCooldown reports whether a proposed trade violates the
// opposite-direction cooldown. Same-direction repeats and trades beyond the
// cooloff window are always allowed.
func CheckCooldown(last *Trade, side domain.TradeSide, cooloffDays int, now time.Time) bool {
	if last == nil || cooloffDays <= 0 {
		return false
	}
	if last.Side == side {
		return false
	}
	elapsed := now.Sub(time.Unix(last.ExecutedAt, 0))
	return elapsed < time.Duration(cooloffDays)*24*time.Hour
}

// InCooldown checks the ledger for a cooldown violation on a symbol
func (r *Repository) InCooldown(symbol string, side domain.TradeSide, cooloffDays int, now time.Time) (bool, error) {
	last, err := r.GetLastTrade(symbol)
	if err != nil {
		return false, err
	}
	return CheckCooldown(last, side, cooloffDays, now), nil
}
