// Package jobs binds the background work to the scheduler: broker syncs,
// scoring passes, planning refreshes, and maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/backup"
	"github.com/aristath/sentinel/internal/clients/tradernet"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/cache"
	"github.com/aristath/sentinel/internal/modules/cashflows"
	"github.com/aristath/sentinel/internal/modules/currency"
	"github.com/aristath/sentinel/internal/modules/planning"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/snapshots"
	"github.com/aristath/sentinel/internal/modules/trading"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/internal/scheduler"
)

// Broker is the outbound surface the sync jobs need
type Broker interface {
	GetPortfolio() (*tradernet.Portfolio, error)
	GetQuotes(symbols []string) (map[string]domain.Quote, error)
	GetHistoricalPricesBulk(symbols []string, years int) (map[string][]domain.PriceBar, error)
	GetTradesHistory(start, end time.Time) ([]tradernet.TradeRow, error)
	GetCashFlows(start, end time.Time) ([]tradernet.CashFlowRow, error)
	GetAvailableSecurities() ([]tradernet.AvailableSecurity, error)
}

// Deps is everything the job handlers close over
type Deps struct {
	Broker     Broker
	Securities *universe.SecurityRepository
	Positions  *portfolio.PositionRepository
	Cash       *portfolio.CashRepository
	Prices     *prices.Repository
	Trades     *trading.Repository
	Flows      *cashflows.Repository
	Pools      *cashflows.PoolRepository
	Cache      *cache.Repository
	Settings   *settings.Repository
	Currency   *currency.Service
	Scores     *scoring.Calculator
	Snapshots  *snapshots.Service
	Planner    *planning.Planner
	Execution  *trading.ExecutionService
	Markets    *scheduler.MarketHours
	Backup     *backup.Service
	Events     *events.Manager
	Log        zerolog.Logger
}

// RegisterAll binds every seed job type to its handler
func RegisterAll(s *scheduler.Scheduler, d Deps) {
	log := d.Log.With().Str("component", "jobs").Logger()

	s.Register("sync:portfolio", func(string) error { return syncPortfolio(d) })
	s.Register("sync:prices", func(param string) error { return syncPrices(d, param) })
	s.Register("sync:quotes", func(string) error { return syncQuotes(d) })
	s.Register("sync:metadata", func(string) error { return syncMetadata(d) })
	s.Register("sync:fx", func(string) error { return syncFX(d) })
	s.Register("sync:trades", func(string) error { return syncTrades(d) })
	s.Register("sync:cashflows", func(string) error { return syncCashFlows(d) })
	s.Register("sync:dividends", func(string) error { return syncDividends(d, log) })
	s.Register("compute:scoring", func(string) error { return d.Scores.RunAll() })
	s.Register("compute:aggregates", func(string) error { return d.Snapshots.RebuildAll() })
	s.Register("check:market-status", func(string) error {
		d.Markets.OpenMarkets()
		return nil
	})
	s.Register("trade:execute", func(string) error { return executeTrades(d, log) })
	s.Register("trade:plan-refresh", func(string) error {
		_, err := d.Planner.GetRecommendations("", nil)
		return err
	})
	s.Register("maintenance:balance-fix", func(string) error { return balanceFix(d, log) })
	s.Register("maintenance:backup", func(string) error {
		if d.Backup == nil {
			return nil
		}
		return d.Backup.Run(context.Background())
	})
	s.Register("maintenance:cache-purge", func(string) error {
		purged, err := d.Cache.PurgeExpired()
		if err != nil {
			return err
		}
		if purged > 0 {
			log.Debug().Int64("purged", purged).Msg("Expired cache entries removed")
		}
		return nil
	})
}

// syncPortfolio replaces positions and cash balances with the broker state
func syncPortfolio(d Deps) error {
	broker, err := d.Broker.GetPortfolio()
	if err != nil {
		return fmt.Errorf("portfolio fetch: %w", err)
	}

	positions := make([]portfolio.Position, 0, len(broker.Positions))
	now := time.Now().Unix()
	for _, p := range broker.Positions {
		positions = append(positions, portfolio.Position{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AverageCost:   p.AvgCost,
			CurrentPrice:  p.CurrentPrice,
			Currency:      p.Currency,
			FirstBoughtAt: &now,
		})
	}
	if err := d.Positions.ReplaceAll(positions); err != nil {
		return err
	}

	balances := make([]domain.CashBalance, 0, len(broker.Cash))
	for ccy, amount := range broker.Cash {
		balances = append(balances, domain.CashBalance{Currency: ccy, Amount: amount})
	}
	return d.Cash.ReplaceAll(balances)
}

// syncPrices loads historical bars for one symbol (composite job) or for
// the whole active universe.
func syncPrices(d Deps, symbol string) error {
	var symbols []string
	if symbol != "" {
		symbols = []string{symbol}
	} else {
		securities, err := d.Securities.GetAllActive()
		if err != nil {
			return err
		}
		for _, s := range securities {
			symbols = append(symbols, s.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	fetched, err := d.Broker.GetHistoricalPricesBulk(symbols, 2)
	if err != nil {
		return fmt.Errorf("price history fetch: %w", err)
	}
	for sym, bars := range fetched {
		for i := range bars {
			bars[i].Symbol = sym
		}
		if err := d.Prices.UpsertBatch(bars); err != nil {
			return err
		}
	}
	return nil
}

// syncQuotes refreshes current prices on open positions
func syncQuotes(d Deps) error {
	positions, err := d.Positions.GetActive()
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}

	quotes, err := d.Broker.GetQuotes(symbols)
	if err != nil {
		return fmt.Errorf("quote fetch: %w", err)
	}
	for symbol, quote := range quotes {
		if quote.Price <= 0 {
			continue
		}
		if err := d.Positions.UpdatePrice(symbol, quote.Price); err != nil {
			return err
		}
	}
	return nil
}

// syncMetadata refreshes the tradeable universe from the broker
func syncMetadata(d Deps) error {
	available, err := d.Broker.GetAvailableSecurities()
	if err != nil {
		return fmt.Errorf("securities fetch: %w", err)
	}
	for _, a := range available {
		existing, err := d.Securities.GetBySymbol(a.Symbol)
		if err != nil {
			return err
		}
		if existing == nil {
			// New symbols arrive inactive; the operator opts them in
			if err := d.Securities.Upsert(universe.Security{
				Symbol:         a.Symbol,
				Name:           a.Name,
				Currency:       a.Currency,
				MarketCode:     a.Market,
				MinLot:         1,
				Active:         false,
				AllowBuy:       true,
				AllowSell:      true,
				UserMultiplier: 1.0,
			}); err != nil {
				return err
			}
			continue
		}
		existing.Name = a.Name
		existing.Currency = a.Currency
		existing.MarketCode = a.Market
		if err := d.Securities.Upsert(*existing); err != nil {
			return err
		}
	}
	return nil
}

// syncFX warms today's rates into the per-date FX table
func syncFX(d Deps) error {
	positions, err := d.Positions.GetActive()
	if err != nil {
		return err
	}
	currencies := make(map[string]bool)
	for _, p := range positions {
		if !strings.EqualFold(p.Currency, "EUR") {
			currencies[strings.ToUpper(p.Currency)] = true
		}
	}
	if len(currencies) == 0 {
		return nil
	}

	ccys := make([]string, 0, len(currencies))
	for ccy := range currencies {
		ccys = append(ccys, ccy)
	}
	return d.Currency.PrefetchRates(ccys, []string{domain.DateOnly(time.Now().UTC())})
}

// syncTrades pulls recent fills into the append-only ledger
func syncTrades(d Deps) error {
	end := time.Now()
	start := end.AddDate(0, 0, -30)

	rows, err := d.Broker.GetTradesHistory(start, end)
	if err != nil {
		return fmt.Errorf("trade history fetch: %w", err)
	}

	for _, row := range rows {
		executedAt, err := time.Parse(time.RFC3339, row.ExecutedAt)
		if err != nil {
			// Some endpoints return date-only stamps
			executedAt, err = time.Parse("2006-01-02", row.ExecutedAt)
			if err != nil {
				continue
			}
		}
		if _, err := d.Trades.Create(trading.Trade{
			BrokerTradeID:      row.BrokerTradeID,
			Symbol:             row.Symbol,
			Side:               row.SideValue(),
			Quantity:           row.Quantity,
			Price:              row.Price,
			Commission:         row.Commission,
			CommissionCurrency: row.CommissionCurrency,
			Currency:           row.Currency,
			ExecutedAt:         executedAt.Unix(),
			RawJSON:            string(row.Raw),
		}); err != nil {
			return err
		}
	}
	return nil
}

// syncCashFlows pulls cash movements and credits dividend pools
func syncCashFlows(d Deps) error {
	end := time.Now()
	start := end.AddDate(0, 0, -90)

	rows, err := d.Broker.GetCashFlows(start, end)
	if err != nil {
		return fmt.Errorf("cash flow fetch: %w", err)
	}

	for _, row := range rows {
		inserted, err := d.Flows.Create(cashflows.CashFlow{
			Date:     row.Date,
			Type:     row.Type,
			Amount:   row.Amount,
			Currency: row.Currency,
			Comment:  row.Comment,
			RawJSON:  string(row.Raw),
		})
		if err != nil {
			return err
		}
		if inserted && row.Type == cashflows.TypeDividend {
			symbol := dividendSymbol(row.Comment)
			if symbol != "" {
				amountEUR := d.Currency.ToEUR(row.Amount, row.Currency)
				if err := d.Pools.Add(symbol, amountEUR); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// dividendSymbol extracts the ticker from a broker dividend comment such as
// "Dividend AAPL.US 2026-08-01".
func dividendSymbol(comment string) string {
	fields := strings.Fields(comment)
	for _, f := range fields {
		if f == strings.ToUpper(f) && len(f) >= 2 && len(f) <= 12 && strings.ContainsAny(f, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			if strings.EqualFold(f, "DIVIDEND") || strings.EqualFold(f, "TAX") {
				continue
			}
			return f
		}
	}
	return ""
}

// syncDividends watches per-symbol dividend history for cuts
func syncDividends(d Deps, log zerolog.Logger) error {
	flows, err := d.Flows.GetByType(cashflows.TypeDividend)
	if err != nil {
		return err
	}

	threshold := d.Settings.GetFloat(settings.KeyDividendCutThreshold)
	bySymbol := make(map[string][]float64)
	for _, f := range flows {
		symbol := dividendSymbol(f.Comment)
		if symbol == "" {
			continue
		}
		bySymbol[symbol] = append(bySymbol[symbol], f.Amount)
	}

	for symbol, payments := range bySymbol {
		if cut, change := cashflows.DetectDividendCut(payments, threshold); cut {
			log.Warn().
				Str("symbol", symbol).
				Float64("change_pct", change*100).
				Msg("Dividend cut detected")
			if d.Events != nil {
				d.Events.Emit(events.DividendCut, "cashflows", map[string]interface{}{
					"symbol":     symbol,
					"change_pct": change * 100,
				})
			}
		}
	}
	return nil
}

// executeTrades runs the planner and places what it recommends
func executeTrades(d Deps, log zerolog.Logger) error {
	recs, err := d.Planner.GetRecommendations("", nil)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	results := d.Execution.ExecuteRecommendations(recs)
	placed := settleExecuted(d, results)
	log.Info().Int("recommended", len(recs)).Int("placed", placed).Msg("Trade execution pass complete")
	return d.Execution.ProcessRetries()
}

// settleExecuted post-processes one execution pass: a placed buy consumes
// the symbol's pooled dividend cash, and every outcome goes on the event bus.
func settleExecuted(d Deps, results []trading.ExecutionResult) int {
	placed := 0
	for _, r := range results {
		if r.Skipped {
			if d.Events != nil {
				d.Events.Emit(events.TradeSkipped, "trading", map[string]interface{}{
					"symbol": r.Symbol,
					"side":   r.Side,
					"reason": r.Reason,
				})
			}
			continue
		}
		placed++
		if domain.TradeSide(r.Side).IsBuy() {
			if err := d.Pools.Drain(r.Symbol); err != nil {
				d.Log.Error().Err(err).Str("symbol", r.Symbol).Msg("Failed to drain dividend pool")
			}
		}
		if d.Events != nil {
			d.Events.Emit(events.TradeExecuted, "trading", map[string]interface{}{
				"symbol":   r.Symbol,
				"side":     r.Side,
				"order_id": r.OrderID,
			})
		}
	}
	return placed
}

// balanceFix executes only the solvency sells the planner prepends when
// cash balances have gone negative.
func balanceFix(d Deps, log zerolog.Logger) error {
	recs, err := d.Planner.GetRecommendations("", nil)
	if err != nil {
		return err
	}

	var deficit []domain.Recommendation
	for _, rec := range recs {
		if rec.Priority >= 1000 && strings.Contains(strings.ToLower(rec.Reason), "deficit") {
			deficit = append(deficit, rec)
		}
	}
	if len(deficit) == 0 {
		return nil
	}

	log.Warn().Int("sells", len(deficit)).Msg("Negative balance detected, executing deficit sells")
	if d.Events != nil {
		d.Events.Emit(events.DeficitSell, "trading", map[string]interface{}{"sells": len(deficit)})
	}
	settleExecuted(d, d.Execution.ExecuteRecommendations(deficit))
	return nil
}
