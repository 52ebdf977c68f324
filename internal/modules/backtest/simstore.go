package backtest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/modules/prices"
)

// Reference tables copied from the live store into the simulation clone.
// Everything else starts empty; nothing is ever written back.
var referenceTables = map[string][]string{
	"settings":           {"key", "value"},
	"securities":         {"symbol", "name", "currency", "geography", "industry", "min_lot", "active", "allow_buy", "allow_sell", "user_multiplier", "market_code", "last_synced"},
	"allocation_targets": {"kind", "name", "weight"},
	"scores":             {"symbol", "score", "components_json", "calculated_at"},
	"fx_rate_history":    {"date", "currency", "rate"},
}

// createSimStore builds a fresh store at a temp path and seeds it with the
// live store's reference tables.
func createSimStore(live *sql.DB) (*database.DB, string, error) {
	dir, err := os.MkdirTemp("", "backtest-")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	path := filepath.Join(dir, "sim.db")

	sim, err := database.New(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("failed to open sim store: %w", err)
	}
	if err := database.ApplySchema(sim.Conn()); err != nil {
		sim.Close()
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("failed to apply sim schema: %w", err)
	}

	for table, columns := range referenceTables {
		if err := copyTable(live, sim.Conn(), table, columns); err != nil {
			sim.Close()
			os.RemoveAll(dir)
			return nil, "", err
		}
	}

	return sim, dir, nil
}

// copyTable streams rows between two store handles. Column-explicit so
// schema drift between versions cannot silently corrupt the clone.
func copyTable(src, dst *sql.DB, table string, columns []string) error {
	colList := strings.Join(columns, ", ")
	rows, err := src.Query(fmt.Sprintf("SELECT %s FROM %s", colList, table))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(columns)), ",")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, placeholders)

	tx, err := dst.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin copy of %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insert)
	if err != nil {
		return fmt.Errorf("failed to prepare copy of %s: %w", table, err)
	}
	defer stmt.Close()

	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if _, err := stmt.Exec(values...); err != nil {
			return fmt.Errorf("failed to copy %s row: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return tx.Commit()
}

// priceSeries is the in-memory, corruption-corrected price history the
// simulated broker answers quotes from.
type priceSeries struct {
	dates  []string
	closes []float64
}

// closeOn returns the close on the given date, or the most recent prior one
func (ps *priceSeries) closeOn(date string) (float64, bool) {
	idx := sort.SearchStrings(ps.dates, date)
	if idx < len(ps.dates) && ps.dates[idx] == date {
		return ps.closes[idx], true
	}
	if idx == 0 {
		return 0, false
	}
	return ps.closes[idx-1], true
}

// simBroker answers quotes from validated historical series, scoped to the
// simulation date so no future data leaks into a decision.
type simBroker struct {
	series map[string]*priceSeries
}

func newSimBroker(priceRepo *prices.Repository, validator *prices.Validator, symbols []string) (*simBroker, error) {
	broker := &simBroker{series: make(map[string]*priceSeries, len(symbols))}
	for _, symbol := range symbols {
		bars, err := priceRepo.GetHistory(symbol, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to load series for %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			continue
		}
		cleaned := validator.CleanSeries(bars)
		ps := &priceSeries{
			dates:  make([]string, len(cleaned)),
			closes: make([]float64, len(cleaned)),
		}
		for i, b := range cleaned {
			ps.dates[i] = b.Date
			ps.closes[i] = b.Close
		}
		broker.series[symbol] = ps
	}
	return broker, nil
}

// quoteAt returns the validated close at or before a date
func (b *simBroker) quoteAt(symbol, date string) (float64, bool) {
	ps, ok := b.series[symbol]
	if !ok {
		return 0, false
	}
	return ps.closeOn(date)
}

// syntheticTradeID generates a broker id carrying the backtest marker so
// simulated fills can never be mistaken for real ones.
func syntheticTradeID() string {
	return "BT-" + uuid.NewString()
}

// earliestDate returns the earliest available price date across the universe
func (b *simBroker) earliestDate() string {
	earliest := ""
	for _, ps := range b.series {
		if len(ps.dates) == 0 {
			continue
		}
		if earliest == "" || ps.dates[0] < earliest {
			earliest = ps.dates[0]
		}
	}
	return earliest
}
