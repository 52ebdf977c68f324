// Package allocation owns allocation targets and computes the ideal
// portfolio weights the rebalance engine steers toward.
package allocation

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Target kinds
const (
	KindGeography = "geography"
	KindIndustry  = "industry"
)

// Target is one allocation target row. Weights are relative and normalized
// at read time.
type Target struct {
	Kind   string  `json:"kind"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// TargetRepository handles allocation_targets persistence
type TargetRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTargetRepository creates a new target repository
func NewTargetRepository(db *sql.DB, log zerolog.Logger) *TargetRepository {
	return &TargetRepository{
		db:  db,
		log: log.With().Str("repo", "allocation_targets").Logger(),
	}
}

// GetByKind returns the raw targets for one kind
func (r *TargetRepository) GetByKind(kind string) ([]Target, error) {
	rows, err := r.db.Query(
		"SELECT kind, name, weight FROM allocation_targets WHERE kind = ? ORDER BY name", kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s targets: %w", kind, err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.Kind, &t.Name, &t.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// GetNormalized returns name → weight normalized to sum 1 for one kind.
// A kind whose raw weights sum to zero returns an empty map; callers skip it.
func (r *TargetRepository) GetNormalized(kind string) (map[string]float64, error) {
	targets, err := r.GetByKind(kind)
	if err != nil {
		return nil, err
	}

	sum := 0.0
	for _, t := range targets {
		if t.Weight > 0 {
			sum += t.Weight
		}
	}

	normalized := make(map[string]float64, len(targets))
	if sum <= 0 {
		return normalized, nil
	}
	for _, t := range targets {
		if t.Weight > 0 {
			normalized[t.Name] = t.Weight / sum
		}
	}
	return normalized, nil
}

// Set upserts one target
func (r *TargetRepository) Set(kind, name string, weight float64) error {
	_, err := r.db.Exec(`
		INSERT INTO allocation_targets (kind, name, weight) VALUES (?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET weight = excluded.weight`,
		kind, name, weight,
	)
	if err != nil {
		return fmt.Errorf("failed to set target %s/%s: %w", kind, name, err)
	}
	return nil
}

// Delete removes one target
func (r *TargetRepository) Delete(kind, name string) error {
	_, err := r.db.Exec("DELETE FROM allocation_targets WHERE kind = ? AND name = ?", kind, name)
	if err != nil {
		return fmt.Errorf("failed to delete target %s/%s: %w", kind, name, err)
	}
	return nil
}
