// Command pricesync backfills price history outside the scheduler, spacing
// broker requests so a full-universe backfill stays inside rate limits.
package main

import (
	"flag"
	"time"

	"github.com/aristath/sentinel/internal/clients/tradernet"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/pkg/logger"
)

func main() {
	symbol := flag.String("symbol", "", "sync a single symbol instead of the active universe")
	years := flag.Int("years", 20, "years of history to request")
	delay := flag.Duration("delay", 10*time.Second, "pause between broker requests")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	broker := tradernet.NewClient(tradernet.Config{
		BaseURL:   cfg.BrokerServiceURL,
		APIKey:    cfg.TradernetAPIKey,
		APISecret: cfg.TradernetAPISecret,
	}, log)
	priceRepo := prices.NewRepository(db.Conn(), log)
	securityRepo := universe.NewSecurityRepository(db.Conn(), log)

	var symbols []string
	if *symbol != "" {
		symbols = []string{*symbol}
	} else {
		securities, err := securityRepo.GetAllActive()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load universe")
		}
		for _, s := range securities {
			symbols = append(symbols, s.Symbol)
		}
	}

	log.Info().Int("symbols", len(symbols)).Int("years", *years).Msg("Starting price sync")

	synced := 0
	for i, sym := range symbols {
		if i > 0 {
			time.Sleep(*delay)
		}

		fetched, err := broker.GetHistoricalPricesBulk([]string{sym}, *years)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("Fetch failed, continuing")
			continue
		}

		bars := fetched[sym]
		for j := range bars {
			bars[j].Symbol = sym
		}
		if err := priceRepo.UpsertBatch(bars); err != nil {
			log.Fatal().Err(err).Str("symbol", sym).Msg("Failed to store bars")
		}

		log.Info().Str("symbol", sym).Int("bars", len(bars)).Msg("Synced")
		synced++
	}

	log.Info().Int("synced", synced).Int("skipped", len(symbols)-synced).Msg("Price sync complete")
}
