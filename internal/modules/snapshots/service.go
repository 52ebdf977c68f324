package snapshots

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/cashflows"
	"github.com/aristath/sentinel/internal/modules/prices"
	"github.com/aristath/sentinel/internal/modules/trading"
)

// RateSource supplies per-date FX rates and prefetching
type RateSource interface {
	RateForDate(ccy, date string) float64
	PrefetchRates(currencies []string, dates []string) error
}

// Service rebuilds daily snapshots from the immutable ledgers
type Service struct {
	trades    *trading.Repository
	flows     *cashflows.Repository
	prices    *prices.Repository
	snapshots *Repository
	currency  RateSource
	log       zerolog.Logger
}

// NewService creates a new snapshot service
func NewService(
	trades *trading.Repository,
	flows *cashflows.Repository,
	priceRepo *prices.Repository,
	snapshotRepo *Repository,
	currency RateSource,
	log zerolog.Logger,
) *Service {
	return &Service{
		trades:    trades,
		flows:     flows,
		prices:    priceRepo,
		snapshots: snapshotRepo,
		currency:  currency,
		log:       log.With().Str("service", "snapshots").Logger(),
	}
}

// positionState is the running reconstruction state for one symbol
type positionState struct {
	quantity     float64
	costBasisEUR float64
	currency     string
}

// RebuildAll reconstructs every snapshot from the earliest trade to today
func (s *Service) RebuildAll() error {
	trades, err := s.trades.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}
	trades = filterInstruments(trades)
	if len(trades) == 0 {
		return nil
	}

	flows, err := s.flows.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load cash flows: %w", err)
	}

	start := domain.UTCMidnight(time.Unix(trades[0].ExecutedAt, 0))
	end := domain.UTCMidnight(time.Now().UTC())

	s.prefetchFX(trades, flows, start, end)

	tradeIdx := 0
	flowIdx := 0
	state := make(map[string]*positionState)
	cashEUR := 0.0

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dayEnd := day.AddDate(0, 0, 1).Unix()
		date := domain.DateOnly(day)

		// Fold in trades executed on this day, at trade-date FX
		for tradeIdx < len(trades) && trades[tradeIdx].ExecutedAt < dayEnd {
			t := trades[tradeIdx]
			tradeIdx++
			cashEUR += s.applyTrade(state, t)
		}

		// Fold in cash flows dated up to this day
		for flowIdx < len(flows) && flows[flowIdx].Date <= date {
			f := flows[flowIdx]
			flowIdx++
			cashEUR += s.flowAmountEUR(f)
		}

		snapshot := s.valueDay(state, cashEUR, day)
		if err := s.snapshots.Upsert(snapshot); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("from", domain.DateOnly(start)).
		Str("to", domain.DateOnly(end)).
		Msg("Snapshot history rebuilt")
	return nil
}

// applyTrade mutates the running state for one fill and returns the cash
// delta in EUR at trade-date rates. Sells reduce cost basis proportionally.
func (s *Service) applyTrade(state map[string]*positionState, t trading.Trade) float64 {
	tradeDate := domain.DateOnly(time.Unix(t.ExecutedAt, 0).UTC())
	rate := s.currency.RateForDate(t.Currency, tradeDate)
	valueEUR := t.Quantity * t.Price * rate
	feeEUR := t.Commission * s.currency.RateForDate(t.CommissionCurrency, tradeDate)

	ps := state[t.Symbol]
	if ps == nil {
		ps = &positionState{currency: t.Currency}
		state[t.Symbol] = ps
	}
	ps.currency = t.Currency

	if t.Side.IsBuy() {
		ps.quantity += t.Quantity
		ps.costBasisEUR += valueEUR
		return -(valueEUR + feeEUR)
	}

	if ps.quantity > 0 {
		sold := t.Quantity
		if sold > ps.quantity {
			sold = ps.quantity
		}
		ps.costBasisEUR -= sold * (ps.costBasisEUR / ps.quantity)
	}
	ps.quantity -= t.Quantity
	if ps.quantity < 0 {
		ps.quantity = 0
	}
	if ps.quantity == 0 {
		ps.costBasisEUR = 0
	}
	return valueEUR - feeEUR
}

func (s *Service) flowAmountEUR(f cashflows.CashFlow) float64 {
	rate := s.currency.RateForDate(f.Currency, f.Date)
	amount := f.Amount * rate
	switch f.Type {
	case cashflows.TypeWithdrawal, cashflows.TypeTax, cashflows.TypeBlock:
		if amount > 0 {
			return -amount
		}
		return amount
	default:
		return amount
	}
}

// valueDay prices every open position at the close ≤ day using day-D FX
func (s *Service) valueDay(state map[string]*positionState, cashEUR float64, day time.Time) Snapshot {
	date := domain.DateOnly(day)
	snapshot := Snapshot{
		Date:      domain.UTCMidnight(day).Unix(),
		Positions: make(map[string]PositionSnapshot),
		CashEUR:   cashEUR,
	}

	for symbol, ps := range state {
		if ps.quantity <= 0 {
			continue
		}
		close, err := s.prices.GetCloseOnOrBefore(symbol, date)
		if err != nil || close == nil {
			continue
		}
		rate := s.currency.RateForDate(ps.currency, date)
		valueEUR := ps.quantity * *close * rate

		snapshot.Positions[symbol] = PositionSnapshot{
			Quantity: ps.quantity,
			ValueEUR: valueEUR,
		}
		snapshot.PositionsValueEUR += valueEUR
		snapshot.NetDepositsEUR += ps.costBasisEUR
	}
	snapshot.UnrealizedPnLEUR = snapshot.PositionsValueEUR - snapshot.NetDepositsEUR
	return snapshot
}

// prefetchFX warms the per-date FX table for every currency and date the
// rebuild will touch, one request per missing date.
func (s *Service) prefetchFX(trades []trading.Trade, flows []cashflows.CashFlow, start, end time.Time) {
	currencies := make(map[string]bool)
	for _, t := range trades {
		currencies[t.Currency] = true
		currencies[t.CommissionCurrency] = true
	}
	for _, f := range flows {
		currencies[f.Currency] = true
	}
	delete(currencies, "EUR")
	delete(currencies, "")
	if len(currencies) == 0 {
		return
	}

	ccys := make([]string, 0, len(currencies))
	for ccy := range currencies {
		ccys = append(ccys, ccy)
	}
	var dates []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dates = append(dates, domain.DateOnly(day))
	}
	if err := s.currency.PrefetchRates(ccys, dates); err != nil {
		s.log.Warn().Err(err).Msg("FX prefetch failed, falling back to per-date lookups")
	}
}

// filterInstruments drops FX pairs, options, and other derivatives
func filterInstruments(trades []trading.Trade) []trading.Trade {
	filtered := make([]trading.Trade, 0, len(trades))
	for _, t := range trades {
		if strings.Contains(t.Symbol, "/") || strings.HasPrefix(t.Symbol, "+") {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}
