package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/sentinel/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth is the liveness probe
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePortfolioSummary returns the full portfolio view
func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Analyzer.GetSummary()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleSnapshots returns daily portfolio snapshots, optionally windowed by
// from/to date query parameters (YYYY-MM-DD).
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	if from == "" && to == "" {
		snaps, err := s.deps.Snapshots.GetAll()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, snaps)
		return
	}

	fromTS := int64(0)
	toTS := time.Now().Unix()
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		fromTS = t.Unix()
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		toTS = t.Unix()
	}

	snaps, err := s.deps.Snapshots.GetRange(fromTS, toTS)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

// handleCashFlows returns the cash movement ledger
func (s *Server) handleCashFlows(w http.ResponseWriter, r *http.Request) {
	if flowType := r.URL.Query().Get("type"); flowType != "" {
		flows, err := s.deps.Flows.GetByType(flowType)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, flows)
		return
	}

	flows, err := s.deps.Flows.GetAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flows)
}

// handleSellAnalysis scores every open position for selling
func (s *Server) handleSellAnalysis(w http.ResponseWriter, r *http.Request) {
	scores, err := s.deps.Sells.AnalyzeAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scores)
}

// handleRecommendations runs the planning pass. Supports as_of (YYYY-MM-DD,
// historical planning) and min_trade_value query parameters.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	asOf := r.URL.Query().Get("as_of")
	if asOf != "" {
		if _, err := time.Parse("2006-01-02", asOf); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var minTradeValue *float64
	if raw := r.URL.Query().Get("min_trade_value"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		minTradeValue = &v
	}

	recs, err := s.deps.Planner.GetRecommendations(asOf, minTradeValue)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"generated_at":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleIdealAllocation returns target weights per symbol
func (s *Server) handleIdealAllocation(w http.ResponseWriter, r *http.Request) {
	ideal, err := s.deps.Planner.IdealAllocation(r.URL.Query().Get("as_of"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ideal)
}

// handleRebalanceSummary returns the drift table
func (s *Server) handleRebalanceSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Planner.RebalanceSummary()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handleUniverseList returns every security, active or not
func (s *Server) handleUniverseList(w http.ResponseWriter, r *http.Request) {
	securities, err := s.deps.Universe.GetAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, securities)
}

// handleScores returns the latest score per symbol
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	scores, err := s.deps.Scores.GetLatestAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scores)
}

// handleSetActive toggles a security in or out of the active universe
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.Universe.SetActive(symbol, body.Active); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "active": body.Active})
}

// handleSetMultiplier sets the operator conviction multiplier
func (s *Server) handleSetMultiplier(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var body struct {
		Multiplier float64 `json:"multiplier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Multiplier < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multiplier must be non-negative"})
		return
	}

	if err := s.deps.Universe.SetUserMultiplier(symbol, body.Multiplier); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "multiplier": body.Multiplier})
}

// handleGetSetting reads one setting, falling back to its default
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value := s.deps.Settings.GetString(key)
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// handleSetSetting writes one setting
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.Settings.Set(key, body.Value); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

// handleCacheStats returns cache occupancy
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Cache.GetStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleCacheClear drops all cached entries
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cache.Clear(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleJobsList returns every schedule row
func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.deps.Schedules.GetAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedules)
}

// handleJobCategories returns distinct schedule categories
func (s *Server) handleJobCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Schedules.Categories()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, categories)
}

// handleJobHistory returns recent job runs
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	entries, err := s.deps.History.GetRecent(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleJobSetEnabled enables or disables one schedule
func (s *Server) handleJobSetEnabled(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.Schedules.SetEnabled(jobType, body.Enabled); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"job_type": jobType, "enabled": body.Enabled})
}

// handleJobSetInterval retunes one schedule's cadence
func (s *Server) handleJobSetInterval(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")

	var body struct {
		IntervalMinutes   int  `json:"interval_minutes"`
		MarketOpenMinutes *int `json:"interval_market_open_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.IntervalMinutes <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "interval_minutes must be positive"})
		return
	}

	if err := s.deps.Schedules.UpdateInterval(jobType, body.IntervalMinutes, body.MarketOpenMinutes); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"job_type": jobType, "interval_minutes": body.IntervalMinutes})
}

// handleMarketsStatus reports how many relevant markets are open
func (s *Server) handleMarketsStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"open_markets": s.deps.Markets.OpenMarkets(),
		"any_open":     s.deps.Markets.AnyOpen(),
		"last_updated": time.Now().UTC().Format(time.RFC3339),
	})
}
