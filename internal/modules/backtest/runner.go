package backtest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/allocation"
	"github.com/aristath/sentinel/internal/modules/cache"
	"github.com/aristath/sentinel/internal/modules/currency"
	"github.com/aristath/sentinel/internal/modules/planning"
	"github.com/aristath/sentinel/internal/modules/portfolio"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/rebalancing"
	"github.com/aristath/sentinel/internal/modules/scoring"
	"github.com/aristath/sentinel/internal/modules/settings"
	"github.com/aristath/sentinel/internal/modules/trading"
	"github.com/aristath/sentinel/internal/modules/universe"
	"github.com/aristath/sentinel/pkg/formulas"
)

// Rebalance frequencies
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

const (
	historyFetchYears = 20
	progressEveryDays = 5
)

// Config parameterizes one run. Zero-valued money fields fall back to the
// backtest_* settings.
type Config struct {
	StartDate          string   `json:"start_date"`
	EndDate            string   `json:"end_date"`
	InitialCapital     float64  `json:"initial_capital"`
	MonthlyDeposit     float64  `json:"monthly_deposit"`
	RebalanceFrequency string   `json:"rebalance_frequency"`
	Symbols            []string `json:"symbols,omitempty"`
}

// HistoryFetcher is the broker surface the build phase needs
type HistoryFetcher interface {
	GetHistoricalPricesBulk(symbols []string, years int) (map[string][]domain.PriceBar, error)
}

// Runner executes backtests against isolated store clones
type Runner struct {
	live     *database.DB
	broker   HistoryFetcher
	registry *Registry
	log      zerolog.Logger
}

// NewRunner creates a new backtest runner
func NewRunner(live *database.DB, broker HistoryFetcher, registry *Registry, log zerolog.Logger) *Runner {
	return &Runner{
		live:     live,
		broker:   broker,
		registry: registry,
		log:      log.With().Str("service", "backtest").Logger(),
	}
}

// simState is the component graph wired over the simulation clone
type simState struct {
	db         *database.DB
	dir        string
	settings   *settings.Repository
	securities *universe.SecurityRepository
	positions  *portfolio.PositionRepository
	cash       *portfolio.CashRepository
	trades     *trading.Repository
	prices     *prices.Repository
	planner    *planning.Planner
	broker     *simBroker
	currency   *currency.Service
}

// perSymbolTracking accumulates activity counters during simulation
type perSymbolTracking struct {
	invested  float64
	sold      float64
	buyCount  int
	sellCount int
}

// Run executes a backtest, emitting events until the channel closes. The
// handle must come from the registry; it is released on teardown.
func (r *Runner) Run(cfg Config, handle *Handle, events chan<- Event) {
	defer close(events)
	defer r.registry.Release(handle)

	sim, err := r.build(cfg, handle, events)
	if sim != nil {
		defer func() {
			sim.db.Close()
			os.RemoveAll(sim.dir)
		}()
	}
	if err != nil {
		if err != errCancelled {
			r.log.Error().Err(err).Msg("Backtest build failed")
			events <- Event{Type: "error", Error: err.Error()}
		} else {
			events <- Event{Type: "cancelled"}
		}
		return
	}

	result, err := r.simulate(cfg, sim, handle, events)
	if err != nil {
		if err == errCancelled {
			events <- Event{Type: "cancelled"}
			return
		}
		r.log.Error().Err(err).Msg("Backtest simulation failed")
		events <- Event{Type: "error", Error: err.Error()}
		return
	}

	events <- Event{Type: "result", Result: result}
}

var errCancelled = fmt.Errorf("backtest cancelled")

// build creates the simulation clone and fills its price history
func (r *Runner) build(cfg Config, handle *Handle, events chan<- Event) (*simState, error) {
	simDB, dir, err := createSimStore(r.live.Conn())
	if err != nil {
		return nil, err
	}
	sim := &simState{db: simDB, dir: dir}

	log := r.log
	sim.settings = settings.NewRepository(simDB.Conn(), log)
	sim.securities = universe.NewSecurityRepository(simDB.Conn(), log)
	sim.positions = portfolio.NewPositionRepository(simDB.Conn(), log)
	sim.cash = portfolio.NewCashRepository(simDB.Conn(), log)
	sim.trades = trading.NewRepository(simDB.Conn(), log)
	sim.prices = prices.NewRepository(simDB.Conn(), log)

	symbols := cfg.Symbols
	if len(symbols) == 0 {
		active, err := sim.securities.GetAllActive()
		if err != nil {
			return sim, err
		}
		for _, s := range active {
			symbols = append(symbols, s.Symbol)
		}
	}
	if len(symbols) == 0 {
		return sim, fmt.Errorf("no securities in the backtest universe")
	}

	livePrices := prices.NewRepository(r.live.Conn(), log)
	var missing []string
	for i, symbol := range symbols {
		if handle.Cancelled() {
			return sim, errCancelled
		}
		events <- Event{Type: "progress", Progress: &Progress{
			Phase: "build", ItemsDone: i, ItemsTotal: len(symbols), CurrentItem: symbol,
		}}

		bars, err := livePrices.GetHistory(symbol, 0)
		if err != nil {
			return sim, err
		}
		if len(bars) > 0 {
			if err := sim.prices.UpsertBatch(bars); err != nil {
				return sim, err
			}
			continue
		}
		missing = append(missing, symbol)
	}

	if len(missing) > 0 && r.broker != nil {
		fetched, err := r.broker.GetHistoricalPricesBulk(missing, historyFetchYears)
		if err != nil {
			r.log.Warn().Err(err).Int("symbols", len(missing)).Msg("History fetch failed, continuing with partial universe")
		} else {
			for symbol, bars := range fetched {
				for i := range bars {
					bars[i].Symbol = symbol
				}
				if err := sim.prices.UpsertBatch(bars); err != nil {
					return sim, err
				}
			}
		}
	}
	events <- Event{Type: "progress", Progress: &Progress{
		Phase: "build", ItemsDone: len(symbols), ItemsTotal: len(symbols),
	}}

	validator := prices.NewValidator(log)
	sim.broker, err = newSimBroker(sim.prices, validator, symbols)
	if err != nil {
		return sim, err
	}

	// Planner graph over the clone. The stub FX fetcher fails every call so
	// the currency service falls back to the copied rate history.
	cacheRepo := cache.NewRepository(simDB.Conn(), log)
	rateRepo := currency.NewRateRepository(simDB.Conn(), log)
	sim.currency = currency.NewService(offlineFetcher{}, rateRepo, cacheRepo, log)

	scoreRepo := scoring.NewRepository(simDB.Conn(), log)
	targetRepo := allocation.NewTargetRepository(simDB.Conn(), log)
	analyzer := portfolio.NewAnalyzer(sim.positions, sim.cash, sim.securities, targetRepo, sim.currency, log)
	calculator := allocation.NewCalculator(sim.securities, scoreRepo, targetRepo, analyzer, nil, nil, sim.settings, cacheRepo, log)
	engine := rebalancing.NewEngine(sim.securities, sim.trades, sim.prices, validator, scoreRepo, sim.currency, sim.settings, cacheRepo, log)
	sim.planner = planning.NewPlanner(calculator, analyzer, engine, log)

	return sim, nil
}

// offlineFetcher fails every FX call; the simulation runs entirely from the
// copied rate history.
type offlineFetcher struct{}

func (offlineFetcher) GetRatesToEUR([]string) (map[string]float64, error) {
	return nil, fmt.Errorf("fx unavailable in simulation")
}
func (offlineFetcher) GetRatesToEURForDate([]string, string) (map[string]float64, error) {
	return nil, fmt.Errorf("fx unavailable in simulation")
}

// simulate walks trading days and executes planner recommendations
func (r *Runner) simulate(cfg Config, sim *simState, handle *Handle, events chan<- Event) (*Result, error) {
	initialCapital := cfg.InitialCapital
	if initialCapital <= 0 {
		initialCapital = sim.settings.GetFloat(settings.KeyBacktestInitialCapital)
	}
	monthlyDeposit := cfg.MonthlyDeposit
	if monthlyDeposit < 0 {
		monthlyDeposit = 0
	} else if monthlyDeposit == 0 {
		monthlyDeposit = sim.settings.GetFloat(settings.KeyBacktestMonthlyDeposit)
	}
	frequency := cfg.RebalanceFrequency
	if frequency == "" {
		frequency = FrequencyWeekly
	}

	start, end, err := r.resolveWindow(cfg, sim)
	if err != nil {
		return nil, err
	}

	if err := sim.cash.Set("EUR", initialCapital); err != nil {
		return nil, err
	}

	fixedFee := sim.settings.GetFloat(settings.KeyTransactionFeeFixed)
	pctFee := sim.settings.GetFloat(settings.KeyTransactionFeePercent) / 100.0

	tracking := make(map[string]*perSymbolTracking)
	var dailySnapshots []DailySnapshot
	totalDeposited := initialCapital
	tradesExecuted := 0
	lastDepositMonth := ""
	lastRebalanceMonth := ""
	dayNumber := 0
	totalDays := int(end.Sub(start).Hours()/24) + 1

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if handle.Cancelled() {
			return nil, errCancelled
		}
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		dayNumber++
		simDate := domain.DateOnly(day)

		// Deposit on the first trading day of each month
		if month := day.Format("2006-01"); month != lastDepositMonth {
			if monthlyDeposit > 0 && lastDepositMonth != "" {
				if err := sim.cash.Adjust("EUR", monthlyDeposit); err != nil {
					return nil, err
				}
				totalDeposited += monthlyDeposit
			}
			lastDepositMonth = month
		}

		if shouldRebalance(frequency, day, lastRebalanceMonth) {
			lastRebalanceMonth = day.Format("2006-01")
			recs, err := sim.planner.GetRecommendations(simDate, nil)
			if err != nil {
				r.log.Warn().Err(err).Str("date", simDate).Msg("Planning failed for simulated day")
			} else {
				executed, err := r.executeRecommendations(sim, recs, day, fixedFee, pctFee, tracking)
				if err != nil {
					return nil, err
				}
				tradesExecuted += executed
			}
		}

		snapshot, err := r.snapshotDay(sim, simDate)
		if err != nil {
			return nil, err
		}
		dailySnapshots = append(dailySnapshots, snapshot)

		if dayNumber%progressEveryDays == 0 {
			events <- Event{Type: "progress", Progress: &Progress{
				Phase: "simulate", ItemsDone: dayNumber, ItemsTotal: totalDays, CurrentItem: simDate,
			}}
		}
	}

	return r.buildResult(sim, cfg, dailySnapshots, tracking, initialCapital, totalDeposited, tradesExecuted, start, end)
}

func (r *Runner) resolveWindow(cfg Config, sim *simState) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if cfg.EndDate != "" {
		parsed, err := time.Parse("2006-01-02", cfg.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
		}
		end = parsed
	}

	var start time.Time
	if cfg.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", cfg.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
		}
		start = parsed
	} else {
		earliest := sim.broker.earliestDate()
		if earliest == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("no price history in the simulation store")
		}
		parsed, err := time.Parse("2006-01-02", earliest)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is not before end date %s",
			domain.DateOnly(start), domain.DateOnly(end))
	}
	return start, end, nil
}

// shouldRebalance gates planner passes. The day loop already skips weekends,
// so monthly means the first trading day of a month not yet rebalanced.
func shouldRebalance(frequency string, day time.Time, lastRebalanceMonth string) bool {
	switch frequency {
	case FrequencyDaily:
		return true
	case FrequencyMonthly:
		return day.Format("2006-01") != lastRebalanceMonth
	default:
		return day.Weekday() == time.Monday
	}
}

// executeRecommendations applies planner output to the simulation store
func (r *Runner) executeRecommendations(
	sim *simState,
	recs []domain.Recommendation,
	day time.Time,
	fixedFee, pctFee float64,
	tracking map[string]*perSymbolTracking,
) (int, error) {
	simDate := domain.DateOnly(day)
	executed := 0

	for _, rec := range recs {
		price, ok := sim.broker.quoteAt(rec.Symbol, simDate)
		if !ok || price <= 0 {
			continue
		}

		side := rec.Action
		valueEUR := sim.currency.ToEUR(rec.Quantity*price, rec.Currency)
		feeEUR := fixedFee + valueEUR*pctFee

		track := tracking[rec.Symbol]
		if track == nil {
			track = &perSymbolTracking{}
			tracking[rec.Symbol] = track
		}

		if side.IsBuy() {
			cashEUR, err := sim.cash.Get("EUR")
			if err != nil {
				return executed, err
			}
			if cashEUR < valueEUR+feeEUR {
				continue
			}
			if err := r.applyBuy(sim, rec, price, day); err != nil {
				return executed, err
			}
			if err := sim.cash.Adjust("EUR", -(valueEUR + feeEUR)); err != nil {
				return executed, err
			}
			track.invested += valueEUR
			track.buyCount++
		} else {
			pos, err := sim.positions.GetBySymbol(rec.Symbol)
			if err != nil {
				return executed, err
			}
			if pos == nil || pos.Quantity < rec.Quantity {
				continue
			}
			if err := r.applySell(sim, *pos, rec.Quantity, price, day); err != nil {
				return executed, err
			}
			if err := sim.cash.Adjust("EUR", valueEUR-feeEUR); err != nil {
				return executed, err
			}
			track.sold += valueEUR
			track.sellCount++
		}

		if _, err := sim.trades.Create(trading.Trade{
			BrokerTradeID:      syntheticTradeID(),
			Symbol:             rec.Symbol,
			Side:               side,
			Quantity:           rec.Quantity,
			Price:              price,
			Commission:         feeEUR,
			CommissionCurrency: "EUR",
			Currency:           rec.Currency,
			ExecutedAt:         day.Unix(),
		}); err != nil {
			return executed, err
		}
		executed++
	}
	return executed, nil
}

func (r *Runner) applyBuy(sim *simState, rec domain.Recommendation, price float64, day time.Time) error {
	pos, err := sim.positions.GetBySymbol(rec.Symbol)
	if err != nil {
		return err
	}

	boughtAt := day.Unix()
	if pos == nil || pos.Quantity <= 0 {
		return sim.positions.Upsert(portfolio.Position{
			Symbol:        rec.Symbol,
			Quantity:      rec.Quantity,
			AverageCost:   price,
			CurrentPrice:  price,
			Currency:      rec.Currency,
			FirstBoughtAt: &boughtAt,
		})
	}

	newQty := pos.Quantity + rec.Quantity
	newAvg := (pos.Quantity*pos.AverageCost + rec.Quantity*price) / newQty
	pos.Quantity = newQty
	pos.AverageCost = newAvg
	pos.CurrentPrice = price
	return sim.positions.Upsert(*pos)
}

func (r *Runner) applySell(sim *simState, pos portfolio.Position, quantity, price float64, day time.Time) error {
	pos.Quantity -= quantity
	pos.CurrentPrice = price
	if err := sim.positions.Upsert(pos); err != nil {
		return err
	}
	return sim.positions.MarkSold(pos.Symbol, day)
}

// snapshotDay reprices every open position at the simulation date
func (r *Runner) snapshotDay(sim *simState, simDate string) (DailySnapshot, error) {
	snapshot := DailySnapshot{Date: simDate, Positions: make(map[string]DailyPosition)}

	positions, err := sim.positions.GetActive()
	if err != nil {
		return snapshot, err
	}
	for _, pos := range positions {
		price, ok := sim.broker.quoteAt(pos.Symbol, simDate)
		if !ok || price <= 0 {
			price = pos.CurrentPrice
		} else if price != pos.CurrentPrice {
			if err := sim.positions.UpdatePrice(pos.Symbol, price); err != nil {
				return snapshot, err
			}
		}
		valueEUR := sim.currency.ToEUR(pos.Quantity*price, pos.Currency)
		snapshot.Positions[pos.Symbol] = DailyPosition{
			Quantity: pos.Quantity,
			Price:    price,
			ValueEUR: valueEUR,
		}
		snapshot.PositionsValueEUR += valueEUR
	}

	balances, err := sim.cash.GetAll()
	if err != nil {
		return snapshot, err
	}
	for ccy, amount := range balances {
		snapshot.CashEUR += sim.currency.ToEUR(amount, ccy)
	}
	snapshot.TotalValueEUR = snapshot.PositionsValueEUR + snapshot.CashEUR
	return snapshot, nil
}

// buildResult computes the terminal performance summary
func (r *Runner) buildResult(
	sim *simState,
	cfg Config,
	snapshots []DailySnapshot,
	tracking map[string]*perSymbolTracking,
	initialCapital, totalDeposited float64,
	tradesExecuted int,
	start, end time.Time,
) (*Result, error) {
	result := &Result{
		StartDate:      domain.DateOnly(start),
		EndDate:        domain.DateOnly(end),
		InitialCapital: initialCapital,
		TotalDeposited: totalDeposited,
		TradesExecuted: tradesExecuted,
		Snapshots:      snapshots,
	}
	if len(snapshots) == 0 {
		return result, nil
	}

	final := snapshots[len(snapshots)-1].TotalValueEUR
	result.FinalValueEUR = final
	if totalDeposited > 0 {
		result.TotalReturnPct = (final - totalDeposited) / totalDeposited * 100
	}

	years := end.Sub(start).Hours() / 24 / 365.25
	if years > 0 && totalDeposited > 0 {
		result.CAGR = formulas.CalculateCAGR(totalDeposited, final, years) * 100
	}

	values := make([]float64, len(snapshots))
	for i, s := range snapshots {
		values[i] = s.TotalValueEUR
	}
	if dd := formulas.CalculateMaxDrawdown(values); dd != nil {
		result.MaxDrawdown = *dd
	}
	returns := formulas.CalculateReturns(values)
	result.SharpeRatio = formulas.CalculateSharpeRatio(returns, 0, 252)

	for symbol, track := range tracking {
		perf := SecurityPerformance{
			Symbol:        symbol,
			TotalInvested: track.invested,
			TotalSold:     track.sold,
			BuyCount:      track.buyCount,
			SellCount:     track.sellCount,
		}
		if pos, ok := snapshots[len(snapshots)-1].Positions[symbol]; ok {
			perf.FinalValueEUR = pos.ValueEUR
		}
		if track.invested > 0 {
			perf.ReturnPct = (track.sold + perf.FinalValueEUR - track.invested) / track.invested * 100
		}
		result.Securities = append(result.Securities, perf)
	}
	sort.Slice(result.Securities, func(i, j int) bool {
		return result.Securities[i].Symbol < result.Securities[j].Symbol
	})

	return result, nil
}
