// Package cache implements the TTL-backed cache table. Values are
// msgpack-encoded blobs; expired rows are lazily purged on read and by the
// maintenance job.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository handles cache table operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// Stats summarizes cache occupancy
type Stats struct {
	Entries int `json:"entries"`
	Expired int `json:"expired"`
}

// NewRepository creates a new cache repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "cache").Logger(),
	}
}

// Set stores a value under key with a TTL
func (r *Repository) Set(key string, value interface{}, ttl time.Duration) error {
	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s: %w", key, err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = r.db.Exec(
		"INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at",
		key, blob, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}
	return nil
}

// Get loads a value into dest. Returns false when the key is missing or expired.
func (r *Repository) Get(key string, dest interface{}) (bool, error) {
	var blob []byte
	var expiresAt int64
	err := r.db.QueryRow("SELECT value, expires_at FROM cache WHERE key = ?", key).Scan(&blob, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	if expiresAt < time.Now().Unix() {
		_, _ = r.db.Exec("DELETE FROM cache WHERE key = ?", key)
		return false, nil
	}

	if err := msgpack.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a single entry
func (r *Repository) Delete(key string) error {
	_, err := r.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

// Clear removes all entries
func (r *Repository) Clear() error {
	_, err := r.db.Exec("DELETE FROM cache")
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	r.log.Info().Msg("Cache cleared")
	return nil
}

// PurgeExpired removes expired entries and returns how many were dropped
func (r *Repository) PurgeExpired() (int64, error) {
	res, err := r.db.Exec("DELETE FROM cache WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetStats returns entry counts
func (r *Repository) GetStats() (Stats, error) {
	var stats Stats
	now := time.Now().Unix()
	if err := r.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&stats.Entries); err != nil {
		return stats, fmt.Errorf("failed to count cache entries: %w", err)
	}
	if err := r.db.QueryRow("SELECT COUNT(*) FROM cache WHERE expires_at < ?", now).Scan(&stats.Expired); err != nil {
		return stats, fmt.Errorf("failed to count expired cache entries: %w", err)
	}
	return stats, nil
}
