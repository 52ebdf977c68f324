package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/sentinel/internal/backup"
	"github.com/aristath/sentinel/internal/clients/mlscore"
	"github.com/aristath/sentinel/internal/clients/tradernet"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/jobs"
	"github.com/aristath/sentinel/internal/modules/allocation"
	"github.com/aristath/sentinel/internal/modules/backtest"
	"github.com/aristath/sentinel/internal/modules/cache"
	"github.com/aristath/sentinel/internal/modules/cashflows"
	"github.com/aristath/sentinel/internal/modules/currency"
	"github.com/aristath/sentinel/internal/modules/planning"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/rebalancing"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/snapshots"
	"github.com/aristath/sentinel/internal/modules/trading"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/internal/scheduler"
	"github.com/aristath/sentinel/internal/server"
	"github.com/aristath/sentinel/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("version", server.Version).Msg("Starting Sentinel")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	conn := db.Conn()

	// Repositories
	settingsRepo := settings.NewRepository(conn, log)
	cacheRepo := cache.NewRepository(conn, log)
	securityRepo := universe.NewSecurityRepository(conn, log)
	positionRepo := portfolio.NewPositionRepository(conn, log)
	cashRepo := portfolio.NewCashRepository(conn, log)
	priceRepo := prices.NewRepository(conn, log)
	tradeRepo := trading.NewRepository(conn, log)
	retryRepo := trading.NewRetryRepository(conn, log)
	flowRepo := cashflows.NewRepository(conn, log)
	poolRepo := cashflows.NewPoolRepository(conn, log)
	scoreRepo := scoring.NewRepository(conn, log)
	targetRepo := allocation.NewTargetRepository(conn, log)
	snapshotRepo := snapshots.NewRepository(conn, log)
	fxRepo := currency.NewRateRepository(conn, log)
	scheduleRepo := scheduler.NewScheduleRepository(conn, log)
	historyRepo := scheduler.NewHistoryRepository(conn, log)

	// External clients
	broker := tradernet.NewClient(tradernet.Config{
		BaseURL:   cfg.BrokerServiceURL,
		APIKey:    cfg.TradernetAPIKey,
		APISecret: cfg.TradernetAPISecret,
		Research:  settingsRepo.TradingMode() != "live",
	}, log)
	mlClient := mlscore.NewClient(cfg.MLServiceURL, log)

	// Services
	fx := currency.NewService(broker, fxRepo, cacheRepo, log)
	validator := prices.NewValidator(log)
	analyzer := portfolio.NewAnalyzer(positionRepo, cashRepo, securityRepo, targetRepo, fx, log)
	scoreCalc := scoring.NewCalculator(securityRepo, priceRepo, scoreRepo, log)
	sellAnalyzer := scoring.NewSellAnalyzer(securityRepo, priceRepo, analyzer, settingsRepo, log)
	allocCalc := allocation.NewCalculator(
		securityRepo, scoreRepo, targetRepo, analyzer, mlClient, poolRepo, settingsRepo, cacheRepo, log,
	)
	engine := rebalancing.NewEngine(
		securityRepo, tradeRepo, priceRepo, validator, scoreRepo, fx, settingsRepo, cacheRepo, log,
	)
	planner := planning.NewPlanner(allocCalc, analyzer, engine, log)
	snapshotSvc := snapshots.NewService(tradeRepo, flowRepo, priceRepo, snapshotRepo, fx, log)
	execution := trading.NewExecutionService(broker, tradeRepo, retryRepo, settingsRepo, log)
	bus := events.NewManager(log)

	backupSvc, err := backup.NewService(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure backups")
	}

	// Scheduler
	markets := scheduler.NewMarketHours(broker, securityRepo, log)
	sched := scheduler.New(scheduleRepo, historyRepo, markets, bus, log)
	if err := scheduler.SeedAll(scheduleRepo); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed schedules")
	}
	jobs.RegisterAll(sched, jobs.Deps{
		Broker:     broker,
		Securities: securityRepo,
		Positions:  positionRepo,
		Cash:       cashRepo,
		Prices:     priceRepo,
		Trades:     tradeRepo,
		Flows:      flowRepo,
		Pools:      poolRepo,
		Cache:      cacheRepo,
		Settings:   settingsRepo,
		Currency:   fx,
		Scores:     scoreCalc,
		Snapshots:  snapshotSvc,
		Planner:    planner,
		Execution:  execution,
		Markets:    markets,
		Backup:     backupSvc,
		Events:     bus,
		Log:        log,
	})
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer sched.Stop()

	// Backtesting
	registry := backtest.NewRegistry()
	runner := backtest.NewRunner(db, broker, registry, log)

	srv := server.New(server.Deps{
		Config:    cfg,
		Log:       log,
		Planner:   planner,
		Analyzer:  analyzer,
		Universe:  securityRepo,
		Sells:     sellAnalyzer,
		Scores:    scoreRepo,
		Snapshots: snapshotRepo,
		Flows:     flowRepo,
		Settings:  settingsRepo,
		Cache:     cacheRepo,
		Schedules: scheduleRepo,
		History:   historyRepo,
		Scheduler: sched,
		Markets:   markets,
		Backtests: registry,
		Runner:    runner,
		Events:    bus,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}
