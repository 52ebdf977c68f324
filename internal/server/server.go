// Package server exposes the HTTP API: portfolio views, planning,
// universe management, scheduler controls, backtests, and the event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/backtest"
	"github.com/aristath/sentinel/internal/modules/cache"
	"github.com/aristath/sentinel/internal/modules/cashflows"
	"github.com/aristath/sentinel/internal/modules/planning"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/snapshots"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/internal/scheduler"
)

// Deps is the wiring the handlers need
type Deps struct {
	Config    *config.Config
	Log       zerolog.Logger
	Planner   *planning.Planner
	Analyzer  *portfolio.Analyzer
	Universe  *universe.SecurityRepository
	Sells     *scoring.SellAnalyzer
	Scores    *scoring.Repository
	Snapshots *snapshots.Repository
	Flows     *cashflows.Repository
	Settings  *settings.Repository
	Cache     *cache.Repository
	Schedules *scheduler.ScheduleRepository
	History   *scheduler.HistoryRepository
	Scheduler *scheduler.Scheduler
	Markets   *scheduler.MarketHours
	Backtests *backtest.Registry
	Runner    *backtest.Runner
	Events    *events.Manager
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	deps   Deps
}

// New creates a new HTTP server
func New(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    deps.Log.With().Str("component", "server").Logger(),
		deps:   deps,
	}

	s.setupMiddleware(deps.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
			r.Get("/version", s.handleVersion)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/summary", s.handlePortfolioSummary)
			r.Get("/snapshots", s.handleSnapshots)
			r.Get("/cashflows", s.handleCashFlows)
			r.Get("/sell-analysis", s.handleSellAnalysis)
		})

		r.Route("/planning", func(r chi.Router) {
			r.Get("/recommendations", s.handleRecommendations)
			r.Post("/recommendations", s.handleRecommendations)
			r.Get("/allocation", s.handleIdealAllocation)
			r.Get("/rebalance-summary", s.handleRebalanceSummary)
		})

		r.Route("/universe", func(r chi.Router) {
			r.Get("/", s.handleUniverseList)
			r.Get("/scores", s.handleScores)
			r.Post("/{symbol}/active", s.handleSetActive)
			r.Post("/{symbol}/multiplier", s.handleSetMultiplier)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/{key}", s.handleGetSetting)
			r.Put("/{key}", s.handleSetSetting)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Post("/clear", s.handleCacheClear)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleJobsList)
			r.Get("/categories", s.handleJobCategories)
			r.Get("/history", s.handleJobHistory)
			r.Post("/{jobType}/enabled", s.handleJobSetEnabled)
			r.Post("/{jobType}/interval", s.handleJobSetInterval)
		})

		r.Get("/markets/status", s.handleMarketsStatus)

		r.Route("/backtest", func(r chi.Router) {
			r.Post("/", s.handleBacktestStart)
			r.Get("/status", s.handleBacktestStatus)
			r.Post("/cancel", s.handleBacktestCancel)
		})

		r.Get("/events", s.handleEventsSocket)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.deps.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
