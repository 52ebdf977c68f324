// Package scoring stores score history and produces per-position sell
// verdicts.
package scoring

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Score is one scoring result. History is append-only; queries read the
// latest row per symbol.
type Score struct {
	Symbol       string             `json:"symbol"`
	Score        float64            `json:"score"`
	Components   map[string]float64 `json:"components,omitempty"`
	CalculatedAt int64              `json:"calculated_at"`
}

// Repository handles scores persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new score repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "scores").Logger(),
	}
}

// Create appends a score row
func (r *Repository) Create(symbol string, score float64, components map[string]float64) error {
	var componentsJSON []byte
	if components != nil {
		var err error
		componentsJSON, err = json.Marshal(components)
		if err != nil {
			return fmt.Errorf("failed to marshal score components: %w", err)
		}
	}
	_, err := r.db.Exec(
		"INSERT INTO scores (symbol, score, components_json, calculated_at) VALUES (?, ?, ?, ?)",
		symbol, score, string(componentsJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert score for %s: %w", symbol, err)
	}
	return nil
}

// GetLatest returns the most recent score for a symbol, or nil
func (r *Repository) GetLatest(symbol string) (*Score, error) {
	row := r.db.QueryRow(
		"SELECT symbol, score, COALESCE(components_json, ''), calculated_at FROM scores WHERE symbol = ? ORDER BY calculated_at DESC, id DESC LIMIT 1",
		symbol,
	)
	s, err := scanScore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score for %s: %w", symbol, err)
	}
	return &s, nil
}

// GetLatestAll returns the latest score per symbol
func (r *Repository) GetLatestAll() (map[string]Score, error) {
	rows, err := r.db.Query(`
		SELECT s.symbol, s.score, COALESCE(s.components_json, ''), s.calculated_at
		FROM scores s
		INNER JOIN (
			SELECT symbol, MAX(id) AS max_id FROM scores GROUP BY symbol
		) latest ON s.id = latest.max_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]Score)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores[s.Symbol] = s
	}
	return scores, rows.Err()
}

func scanScore(row interface{ Scan(...any) error }) (Score, error) {
	var s Score
	var componentsJSON string
	err := row.Scan(&s.Symbol, &s.Score, &componentsJSON, &s.CalculatedAt)
	if err != nil {
		return s, err
	}
	if componentsJSON != "" {
		if uerr := json.Unmarshal([]byte(componentsJSON), &s.Components); uerr != nil {
			s.Components = nil
		}
	}
	return s, nil
}
