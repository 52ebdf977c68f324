package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SecurityRepository handles securities persistence
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

const securityColumns = `symbol, name, currency, COALESCE(geography, ''), COALESCE(industry, ''),
	min_lot, active, allow_buy, allow_sell, user_multiplier, COALESCE(market_code, ''), last_synced`

func scanSecurity(row interface{ Scan(...any) error }) (Security, error) {
	var s Security
	err := row.Scan(
		&s.Symbol, &s.Name, &s.Currency, &s.Geography, &s.Industry,
		&s.MinLot, &s.Active, &s.AllowBuy, &s.AllowSell,
		&s.UserMultiplier, &s.MarketCode, &s.LastSynced,
	)
	return s, err
}

// GetAllActive returns all active securities ordered by symbol
func (r *SecurityRepository) GetAllActive() ([]Security, error) {
	rows, err := r.db.Query(
		"SELECT " + securityColumns + " FROM securities WHERE active = 1 ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query active securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		s, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, s)
	}
	return securities, rows.Err()
}

// GetAll returns every security, active or not
func (r *SecurityRepository) GetAll() ([]Security, error) {
	rows, err := r.db.Query(
		"SELECT " + securityColumns + " FROM securities ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		s, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, s)
	}
	return securities, rows.Err()
}

// GetBySymbol returns one security, or nil when unknown
func (r *SecurityRepository) GetBySymbol(symbol string) (*Security, error) {
	row := r.db.QueryRow(
		"SELECT "+securityColumns+" FROM securities WHERE symbol = ?", symbol)
	s, err := scanSecurity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", symbol, err)
	}
	return &s, nil
}

// Upsert inserts or updates a security. The operator-owned columns (active,
// allow_buy, allow_sell, user_multiplier) are preserved on update so a broker
// sync never clobbers manual adjustments.
func (r *SecurityRepository) Upsert(s Security) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO securities (symbol, name, currency, geography, industry,
			min_lot, active, allow_buy, allow_sell, user_multiplier, market_code, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			geography = excluded.geography,
			industry = excluded.industry,
			min_lot = excluded.min_lot,
			market_code = excluded.market_code,
			last_synced = excluded.last_synced`,
		s.Symbol, s.Name, s.Currency, s.Geography, s.Industry,
		s.EffectiveMinLot(), s.Active, s.AllowBuy, s.AllowSell,
		s.UserMultiplier, s.MarketCode, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", s.Symbol, err)
	}
	return nil
}

// SetActive toggles a security's active flag
func (r *SecurityRepository) SetActive(symbol string, active bool) error {
	_, err := r.db.Exec("UPDATE securities SET active = ? WHERE symbol = ?", active, symbol)
	if err != nil {
		return fmt.Errorf("failed to set active for %s: %w", symbol, err)
	}
	return nil
}

// SetUserMultiplier updates the operator conviction multiplier
func (r *SecurityRepository) SetUserMultiplier(symbol string, multiplier float64) error {
	_, err := r.db.Exec("UPDATE securities SET user_multiplier = ? WHERE symbol = ?", multiplier, symbol)
	if err != nil {
		return fmt.Errorf("failed to set user multiplier for %s: %w", symbol, err)
	}
	return nil
}

// Count returns total and active security counts
func (r *SecurityRepository) Count() (total int, active int, err error) {
	err = r.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0) FROM securities",
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count securities: %w", err)
	}
	return total, active, nil
}
