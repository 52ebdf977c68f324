package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/backtest"
)

// handleBacktestStart launches a simulation and streams its progress as
// server-sent events. Only one backtest runs at a time.
func (s *Server) handleBacktestStart(w http.ResponseWriter, r *http.Request) {
	var cfg backtest.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	handle, err := s.deps.Backtests.Acquire(uuid.NewString())
	if err != nil {
		if errors.Is(err, backtest.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.deps.Backtests.Release(handle)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.notifyBacktestStarted(handle.ID)

	stream := make(chan backtest.Event, 16)
	go s.deps.Runner.Run(cfg, handle, stream)

	// A dropped client cancels the run; the runner drains and exits
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			handle.Cancel()
			for range stream {
			}
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			s.notifyBacktest(handle.ID, event)
			payload, err := json.Marshal(event)
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to encode backtest event")
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				handle.Cancel()
				for range stream {
				}
				return
			}
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// notifyBacktestStarted announces a freshly acquired run on the event bus
func (s *Server) notifyBacktestStarted(runID string) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Emit(events.BacktestStarted, "backtest", map[string]interface{}{"id": runID})
}

// notifyBacktest mirrors run lifecycle transitions onto the event bus so
// websocket subscribers see them without following the SSE stream.
func (s *Server) notifyBacktest(runID string, event backtest.Event) {
	if s.deps.Events == nil {
		return
	}
	switch event.Type {
	case "result":
		data := map[string]interface{}{"id": runID}
		if event.Result != nil {
			data["final_value_eur"] = event.Result.FinalValueEUR
			data["total_return_pct"] = event.Result.TotalReturnPct
		}
		s.deps.Events.Emit(events.BacktestFinished, "backtest", data)
	case "cancelled":
		s.deps.Events.Emit(events.BacktestCancelled, "backtest", map[string]interface{}{"id": runID})
	case "error":
		s.deps.Events.Emit(events.ErrorOccurred, "backtest", map[string]interface{}{
			"id":    runID,
			"error": event.Error,
		})
	}
}

// handleBacktestStatus reports whether a simulation is running
func (s *Server) handleBacktestStatus(w http.ResponseWriter, r *http.Request) {
	active := s.deps.Backtests.Active()
	if active == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": true, "id": active.ID})
}

// handleBacktestCancel requests cancellation of the active simulation
func (s *Server) handleBacktestCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backtests.Cancel() {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}
