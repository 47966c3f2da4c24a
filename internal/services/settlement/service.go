// Package settlement resolves queued trades against published net values.
// Each pass reads the queue once, tries every trade independently, and
// applies all resolutions to the holdings ledger in a single write.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// RetryForever attempts every queued trade on every pass. Trades leave
// the queue only on settlement success or explicit revocation.
type RetryForever struct{}

func (RetryForever) ShouldAttempt(models.PendingTrade) bool { return true }

// Service implements interfaces.SettlementService.
type Service struct {
	store   interfaces.LocalStateStore
	gateway interfaces.ValuationGateway
	dirty   interfaces.DirtyMarker
	policy  interfaces.RetryPolicy
	logger  *common.Logger
}

// NewService creates the settlement service. A nil policy defaults to
// RetryForever.
func NewService(store interfaces.LocalStateStore, gateway interfaces.ValuationGateway, dirty interfaces.DirtyMarker, policy interfaces.RetryPolicy, logger *common.Logger) *Service {
	if policy == nil {
		policy = RetryForever{}
	}
	return &Service{
		store:   store,
		gateway: gateway,
		dirty:   dirty,
		policy:  policy,
		logger:  logger,
	}
}

// ProcessPending runs one settlement pass over the queue in submission
// order. A failed or not-yet-priced trade stays queued and never blocks
// the trades behind it.
func (s *Service) ProcessPending(ctx context.Context, userID string) (*models.SettlementResult, error) {
	trades, err := s.loadTrades(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return &models.SettlementResult{}, nil
	}

	holdings, err := s.loadHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Resolutions are staged against a copy so a partial pass never leaks
	// into stored state.
	staged := make(map[string]models.Holding, len(holdings))
	for code, h := range holdings {
		staged[code] = h
	}

	var remaining []models.PendingTrade
	var resolvedIDs []string

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			remaining = append(remaining, trade)
			continue
		}
		if !s.policy.ShouldAttempt(trade) {
			remaining = append(remaining, trade)
			continue
		}

		nav, err := s.lookupNAV(ctx, trade)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("trade_id", trade.ID).
				Str("code", string(trade.FundCode)).
				Msg("Settlement lookup failed, trade stays queued")
			remaining = append(remaining, trade)
			continue
		}
		if !nav.Settleable() {
			// Valuation not published yet. Normal during the gap between
			// market close and NAV release, not an error.
			remaining = append(remaining, trade)
			continue
		}

		s.applyTrade(staged, trade, nav)
		resolvedIDs = append(resolvedIDs, trade.SortKey())
		s.logger.Info().
			Str("trade_id", trade.ID).
			Str("code", string(trade.FundCode)).
			Str("type", string(trade.Type)).
			Float64("nav", nav.Value).
			Str("nav_date", nav.Date).
			Msg("Pending trade settled")
	}

	result := &models.SettlementResult{
		Resolved:    len(resolvedIDs),
		ResolvedIDs: resolvedIDs,
		Remaining:   len(remaining),
	}
	if result.Resolved == 0 {
		return result, nil
	}

	if err := s.commit(ctx, userID, staged, remaining); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) lookupNAV(ctx context.Context, trade models.PendingTrade) (*models.NetValue, error) {
	date, err := trade.SettlementDate()
	if err != nil {
		return nil, err
	}
	return s.gateway.FetchNetValueOn(ctx, string(trade.FundCode), date)
}

func (s *Service) applyTrade(staged map[string]models.Holding, trade models.PendingTrade, nav *models.NetValue) {
	code := string(trade.FundCode)
	switch trade.Type {
	case models.TradeBuy:
		share := trade.NetAmount() / nav.Value
		staged[code] = staged[code].ApplyBuy(share, nav.Value)
	case models.TradeSell:
		updated, excess := staged[code].ApplySell(trade.Share)
		if excess > 0 {
			s.logger.Warn().
				Str("trade_id", trade.ID).
				Str("code", code).
				Float64("requested", trade.Share).
				Float64("excess", excess).
				Msg("Settled sell exceeds held share, clamping position to zero")
		}
		if updated.IsEmpty() {
			delete(staged, code)
		} else {
			staged[code] = updated
		}
	}
}

// commit writes the staged holdings and the surviving queue together, so
// a resolved trade can never be applied twice or lost.
func (s *Service) commit(ctx context.Context, userID string, holdings map[string]models.Holding, remaining []models.PendingTrade) error {
	rawHoldings, err := json.Marshal(holdings)
	if err != nil {
		return fmt.Errorf("failed to encode holdings: %w", err)
	}
	if remaining == nil {
		remaining = []models.PendingTrade{}
	}
	rawTrades, err := json.Marshal(remaining)
	if err != nil {
		return fmt.Errorf("failed to encode pending trades: %w", err)
	}

	if err := s.store.PutState(ctx, userID, models.KeyHoldings, rawHoldings); err != nil {
		return fmt.Errorf("failed to save settled holdings: %w", err)
	}
	if err := s.store.PutState(ctx, userID, models.KeyPendingTrades, rawTrades); err != nil {
		return fmt.Errorf("failed to save pending trades: %w", err)
	}
	s.dirty.MarkDirty(models.KeyHoldings)
	s.dirty.MarkDirty(models.KeyPendingTrades)
	return nil
}

func (s *Service) loadTrades(ctx context.Context, userID string) ([]models.PendingTrade, error) {
	raw, err := s.store.GetState(ctx, userID, models.KeyPendingTrades)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load pending trades: %w", err)
	}
	var trades []models.PendingTrade
	if err := json.Unmarshal(raw, &trades); err != nil {
		return nil, fmt.Errorf("corrupt pending trades value: %w", err)
	}
	return trades, nil
}

func (s *Service) loadHoldings(ctx context.Context, userID string) (map[string]models.Holding, error) {
	raw, err := s.store.GetState(ctx, userID, models.KeyHoldings)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return map[string]models.Holding{}, nil
		}
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}
	var holdings map[string]models.Holding
	if err := json.Unmarshal(raw, &holdings); err != nil {
		return nil, fmt.Errorf("corrupt holdings value: %w", err)
	}
	if holdings == nil {
		holdings = map[string]models.Holding{}
	}
	return holdings, nil
}
