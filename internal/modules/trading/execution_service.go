package trading

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/settings"
)

// OrderBroker is the outbound surface order execution needs
type OrderBroker interface {
	Buy(symbol string, quantity float64, price *float64) (string, error)
	Sell(symbol string, quantity float64, price *float64) (string, error)
	IsResearch() bool
}

// ExecutionService places recommended orders at the broker, under the
// trade-frequency guardrails and the opposite-direction cooldown. Fills are
// picked up later by the trade sync job; this service never writes the
// trade ledger itself.
type ExecutionService struct {
	broker   OrderBroker
	trades   *Repository
	retries  *RetryRepository
	settings *settings.Repository
	log      zerolog.Logger
}

// NewExecutionService creates a new execution service
func NewExecutionService(
	broker OrderBroker,
	trades *Repository,
	retries *RetryRepository,
	settingsRepo *settings.Repository,
	log zerolog.Logger,
) *ExecutionService {
	return &ExecutionService{
		broker:   broker,
		trades:   trades,
		retries:  retries,
		settings: settingsRepo,
		log:      log.With().Str("service", "trade_execution").Logger(),
	}
}

// ExecutionResult reports what happened to one recommendation
type ExecutionResult struct {
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	OrderID string `json:"order_id,omitempty"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// ExecuteRecommendations walks a recommendation list in order, placing each
// order that passes the guardrails. A broker failure queues a retry and
// moves on; it never aborts the batch.
func (s *ExecutionService) ExecuteRecommendations(recs []domain.Recommendation) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(recs))
	for _, rec := range recs {
		results = append(results, s.executeOne(rec))
	}
	return results
}

func (s *ExecutionService) executeOne(rec domain.Recommendation) ExecutionResult {
	result := ExecutionResult{Symbol: rec.Symbol, Side: string(rec.Action)}

	side := rec.Action
	if !side.IsValid() {
		result.Skipped = true
		result.Reason = fmt.Sprintf("unknown action %q", rec.Action)
		return result
	}

	if reason, blocked := s.frequencyBlock(); blocked {
		result.Skipped = true
		result.Reason = reason
		return result
	}

	cooloffDays := s.settings.GetInt(settings.KeyTradeCooloffDays)
	inCooldown, err := s.trades.InCooldown(rec.Symbol, side, cooloffDays, time.Now())
	if err != nil {
		result.Skipped = true
		result.Reason = fmt.Sprintf("cooldown check failed: %v", err)
		return result
	}
	if inCooldown {
		result.Skipped = true
		result.Reason = "opposite-direction cooldown"
		return result
	}

	orderID, err := s.placeOrder(rec.Symbol, side, rec.Quantity, rec.Price)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", rec.Symbol).Str("side", string(side)).Msg("Order failed, queueing retry")
		if rerr := s.retries.Add(rec.Symbol, side, rec.Quantity); rerr != nil {
			s.log.Error().Err(rerr).Str("symbol", rec.Symbol).Msg("Failed to queue retry")
		}
		result.Skipped = true
		result.Reason = fmt.Sprintf("broker error: %v", err)
		return result
	}

	s.log.Info().
		Str("symbol", rec.Symbol).
		Str("side", string(side)).
		Float64("quantity", rec.Quantity).
		Str("order_id", orderID).
		Bool("research", s.broker.IsResearch()).
		Msg("Order placed")

	result.OrderID = orderID
	return result
}

// ProcessRetries attempts every pending retry once
func (s *ExecutionService) ProcessRetries() error {
	pending, err := s.retries.GetPending()
	if err != nil {
		return err
	}

	const maxAttempts = 5
	for _, p := range pending {
		if _, err := s.placeOrder(p.Symbol, p.Side, p.Quantity, 0); err != nil {
			s.log.Debug().Err(err).Str("symbol", p.Symbol).Int("attempts", p.Attempts+1).Msg("Retry attempt failed")
			if rerr := s.retries.RecordFailure(p.ID, maxAttempts); rerr != nil {
				return rerr
			}
			continue
		}
		if err := s.retries.MarkCompleted(p.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExecutionService) placeOrder(symbol string, side domain.TradeSide, quantity, price float64) (string, error) {
	var limit *float64
	if price > 0 {
		limit = &price
	}
	if side.IsBuy() {
		return s.broker.Buy(symbol, quantity, limit)
	}
	return s.broker.Sell(symbol, quantity, limit)
}

// frequencyBlock enforces the max-trades-per-day/week guardrails
func (s *ExecutionService) frequencyBlock() (string, bool) {
	now := time.Now()

	maxPerDay := s.settings.GetInt(settings.KeyMaxTradesPerDay)
	if maxPerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		count, err := s.trades.CountSince(dayStart)
		if err == nil && count >= maxPerDay {
			return fmt.Sprintf("daily trade limit reached (%d)", maxPerDay), true
		}
	}

	maxPerWeek := s.settings.GetInt(settings.KeyMaxTradesPerWeek)
	if maxPerWeek > 0 {
		count, err := s.trades.CountSince(now.AddDate(0, 0, -7))
		if err == nil && count >= maxPerWeek {
			return fmt.Sprintf("weekly trade limit reached (%d)", maxPerWeek), true
		}
	}

	return "", false
}
