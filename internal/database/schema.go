package database

import (
	"database/sql"
	"fmt"
)

// Schema is the full DDL. Every statement is idempotent so startup can apply
// it unconditionally; migrations are additive only and never drop user data.
const Schema = `
CREATE TABLE IF NOT EXISTS securities (
    symbol TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT 'EUR',
    geography TEXT NOT NULL DEFAULT '',
    industry TEXT NOT NULL DEFAULT '',
    min_lot INTEGER NOT NULL DEFAULT 1,
    active INTEGER NOT NULL DEFAULT 1,
    allow_buy INTEGER NOT NULL DEFAULT 1,
    allow_sell INTEGER NOT NULL DEFAULT 1,
    user_multiplier REAL NOT NULL DEFAULT 1.0,
    market_code TEXT NOT NULL DEFAULT '',
    last_synced INTEGER
);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    quantity REAL NOT NULL DEFAULT 0,
    average_cost REAL NOT NULL DEFAULT 0,
    current_price REAL NOT NULL DEFAULT 0,
    currency TEXT NOT NULL DEFAULT 'EUR',
    first_bought_at INTEGER,
    last_sold_at INTEGER,
    last_updated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY,
    broker_trade_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    commission REAL NOT NULL DEFAULT 0,
    commission_currency TEXT NOT NULL DEFAULT 'EUR',
    currency TEXT NOT NULL DEFAULT 'EUR',
    executed_at INTEGER NOT NULL,
    raw_json TEXT,
    created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_broker_id ON trades(broker_trade_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_side ON trades(side);

CREATE TABLE IF NOT EXISTS cash_flows (
    id INTEGER PRIMARY KEY,
    content_hash TEXT NOT NULL,
    date TEXT NOT NULL,
    type TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    comment TEXT NOT NULL DEFAULT '',
    raw_json TEXT,
    created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_flows_hash ON cash_flows(content_hash);
CREATE INDEX IF NOT EXISTS idx_cash_flows_date ON cash_flows(date);
CREATE INDEX IF NOT EXISTS idx_cash_flows_type ON cash_flows(type);

CREATE TABLE IF NOT EXISTS cash_balances (
    currency TEXT PRIMARY KEY,
    amount REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS price_history (
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    open REAL NOT NULL DEFAULT 0,
    high REAL NOT NULL DEFAULT 0,
    low REAL NOT NULL DEFAULT 0,
    close REAL NOT NULL DEFAULT 0,
    volume REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_price_history_symbol_date ON price_history(symbol, date);

CREATE TABLE IF NOT EXISTS fx_rate_history (
    date TEXT NOT NULL,
    currency TEXT NOT NULL,
    rate REAL NOT NULL,
    PRIMARY KEY (date, currency)
);

CREATE TABLE IF NOT EXISTS allocation_targets (
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (kind, name)
);

CREATE TABLE IF NOT EXISTS scores (
    id INTEGER PRIMARY KEY,
    symbol TEXT NOT NULL,
    score REAL NOT NULL,
    components_json TEXT,
    calculated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_symbol ON scores(symbol);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    date INTEGER PRIMARY KEY,
    data_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_schedules (
    job_type TEXT PRIMARY KEY,
    interval_minutes INTEGER NOT NULL,
    interval_market_open_minutes INTEGER,
    market_timing INTEGER NOT NULL DEFAULT 3,
    category TEXT NOT NULL DEFAULT 'sync',
    enabled INTEGER NOT NULL DEFAULT 1,
    last_run INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_job_schedules_category ON job_schedules(category, job_type);

CREATE TABLE IF NOT EXISTS job_history (
    id INTEGER PRIMARY KEY,
    job_id TEXT NOT NULL,
    job_type TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    executed_at INTEGER NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_job_history_executed_at ON job_history(executed_at);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);

CREATE TABLE IF NOT EXISTS pending_retries (
    id INTEGER PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dividend_pools (
    symbol TEXT PRIMARY KEY,
    amount_eur REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0
);
`

// Migrate applies the schema and any additive migrations
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	// Additive column migrations for databases created by earlier versions.
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"securities", "market_code", "ALTER TABLE securities ADD COLUMN market_code TEXT NOT NULL DEFAULT ''"},
		{"positions", "first_bought_at", "ALTER TABLE positions ADD COLUMN first_bought_at INTEGER"},
		{"positions", "last_sold_at", "ALTER TABLE positions ADD COLUMN last_sold_at INTEGER"},
		{"job_schedules", "enabled", "ALTER TABLE job_schedules ADD COLUMN enabled INTEGER NOT NULL DEFAULT 1"},
	}

	for _, m := range migrations {
		has, err := db.hasColumn(m.table, m.column)
		if err != nil {
			return err
		}
		if !has {
			if _, err := db.conn.Exec(m.ddl); err != nil {
				return fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

// ApplySchema applies the schema to an arbitrary connection. The backtester
// uses this to prepare its temp store without going through Migrate.
func ApplySchema(conn *sql.DB) error {
	_, err := conn.Exec(Schema)
	return err
}

func (db *DB) hasColumn(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
