// Package settings manages runtime key/value configuration.
// Settings are stored as strings in the settings table and converted to the
// appropriate type on read; every key has a hardcoded default so the system
// runs from an empty table.
package settings

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
)

// Known setting keys and their defaults.
const (
	KeyMinHoldDays            = "min_hold_days"
	KeySellCooldownDays       = "sell_cooldown_days"
	KeyMaxLossThreshold       = "max_loss_threshold"
	KeyMinSellValue           = "min_sell_value"
	KeyMinTradeValue          = "min_trade_value"
	KeyTradeCooloffDays       = "trade_cooloff_days"
	KeyTransactionFeeFixed    = "transaction_fee_fixed"
	KeyTransactionFeePercent  = "transaction_fee_percent"
	KeyMaxPositionPct         = "max_position_pct"
	KeyMinPositionPct         = "min_position_pct"
	KeyTargetCashPct          = "target_cash_pct"
	KeyDiversificationImpact  = "diversification_impact_pct"
	KeyMaxDividendBoost       = "max_dividend_reinvestment_boost"
	KeyRebalanceThreshold     = "rebalance_threshold"
	KeyMLServiceBaseURL       = "ml_service_base_url"
	KeyTradingMode            = "trading_mode"
	KeyTradernetAPIKey        = "tradernet_api_key"
	KeyTradernetAPISecret     = "tradernet_api_secret"
	KeyMaxTradesPerDay        = "max_trades_per_day"
	KeyMaxTradesPerWeek       = "max_trades_per_week"
	KeyDividendCutThreshold   = "dividend_cut_threshold"
	KeyBacktestInitialCapital = "backtest_initial_capital"
	KeyBacktestMonthlyDeposit = "backtest_monthly_deposit"
)

var defaults = map[string]string{
	KeyMinHoldDays:            "90",
	KeySellCooldownDays:       "180",
	KeyMaxLossThreshold:       "-0.20",
	KeyMinSellValue:           "25",
	KeyMinTradeValue:          "100",
	KeyTradeCooloffDays:       "30",
	KeyTransactionFeeFixed:    "2.0",
	KeyTransactionFeePercent:  "0.2",
	KeyMaxPositionPct:         "20",
	KeyMinPositionPct:         "2",
	KeyTargetCashPct:          "5",
	KeyDiversificationImpact:  "10",
	KeyMaxDividendBoost:       "0.15",
	KeyRebalanceThreshold:     "0.05",
	KeyMLServiceBaseURL:       "http://localhost:8001",
	KeyTradingMode:            "research",
	KeyMaxTradesPerDay:        "4",
	KeyMaxTradesPerWeek:       "10",
	KeyDividendCutThreshold:   "0.20",
	KeyBacktestInitialCapital: "10000",
	KeyBacktestMonthlyDeposit: "500",
}

// Repository handles settings database operations. Stored values take
// precedence over the defaults table, which allows runtime configuration
// changes without a restart.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new settings repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "settings").Logger(),
	}
}

// Get retrieves a setting value by key.
// Returns nil if the setting doesn't exist (not an error).
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set stores a setting value, replacing any previous one
func (r *Repository) Set(key, value string) error {
	_, err := r.db.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetString returns the stored value or the registered default
func (r *Repository) GetString(key string) string {
	value, err := r.Get(key)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Setting read failed, using default")
	}
	if value != nil {
		return *value
	}
	return defaults[key]
}

// GetFloat returns the setting parsed as float64, falling back to the default
func (r *Repository) GetFloat(key string) float64 {
	raw := r.GetString(key)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		d, _ := strconv.ParseFloat(defaults[key], 64)
		return d
	}
	return f
}

// GetInt returns the setting parsed as int, falling back to the default
func (r *Repository) GetInt(key string) int {
	raw := r.GetString(key)
	i, err := strconv.Atoi(raw)
	if err != nil {
		d, _ := strconv.Atoi(defaults[key])
		return d
	}
	return i
}

// TradingMode returns "research" or "live"
func (r *Repository) TradingMode() string {
	mode := r.GetString(KeyTradingMode)
	if mode != "live" {
		return "research"
	}
	return mode
}
