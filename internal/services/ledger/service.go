// Package ledger maintains the holdings map and the pending trade queue.
// All mutations go through the local state store and mark the touched key
// dirty for the sync coordinator.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// Service implements interfaces.LedgerService.
type Service struct {
	store  interfaces.LocalStateStore
	dirty  interfaces.DirtyMarker
	logger *common.Logger
}

// NewService creates the ledger service.
func NewService(store interfaces.LocalStateStore, dirty interfaces.DirtyMarker, logger *common.Logger) *Service {
	return &Service{
		store:  store,
		dirty:  dirty,
		logger: logger,
	}
}

// Buy blends shareDelta units at unitPrice into the holding using
// weighted-average cost.
func (s *Service) Buy(ctx context.Context, userID, code string, shareDelta, unitPrice float64) (models.Holding, error) {
	if !models.ValidFundCode(code) {
		return models.Holding{}, fmt.Errorf("invalid fund code '%s'", code)
	}
	if shareDelta <= 0 {
		return models.Holding{}, fmt.Errorf("buy share must be positive, got %v", shareDelta)
	}
	if unitPrice <= 0 {
		return models.Holding{}, fmt.Errorf("buy price must be positive, got %v", unitPrice)
	}

	holdings, err := s.loadHoldings(ctx, userID)
	if err != nil {
		return models.Holding{}, err
	}

	updated := holdings[code].ApplyBuy(shareDelta, unitPrice)
	holdings[code] = updated
	if err := s.saveHoldings(ctx, userID, holdings); err != nil {
		return models.Holding{}, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("code", code).
		Float64("share", shareDelta).
		Float64("price", unitPrice).
		Float64("new_share", updated.Share).
		Float64("new_cost", updated.Cost).
		Msg("Buy applied to ledger")
	return updated, nil
}

// Sell reduces the holding, clamping at zero. The clamp is logged, never
// silent; clearing a position resets its cost basis.
func (s *Service) Sell(ctx context.Context, userID, code string, shareDelta float64) (models.Holding, error) {
	if !models.ValidFundCode(code) {
		return models.Holding{}, fmt.Errorf("invalid fund code '%s'", code)
	}
	if shareDelta <= 0 {
		return models.Holding{}, fmt.Errorf("sell share must be positive, got %v", shareDelta)
	}

	holdings, err := s.loadHoldings(ctx, userID)
	if err != nil {
		return models.Holding{}, err
	}

	updated, excess := holdings[code].ApplySell(shareDelta)
	if excess > 0 {
		s.logger.Warn().
			Str("user_id", userID).
			Str("code", code).
			Float64("requested", shareDelta).
			Float64("excess", excess).
			Msg("Sell exceeds held share, clamping position to zero")
	}

	if updated.IsEmpty() {
		delete(holdings, code)
	} else {
		holdings[code] = updated
	}
	if err := s.saveHoldings(ctx, userID, holdings); err != nil {
		return models.Holding{}, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("code", code).
		Float64("share", shareDelta).
		Float64("remaining", updated.Share).
		Msg("Sell applied to ledger")
	return updated, nil
}

// SetHolding manually edits a position. Zero share and cost deletes the
// entry.
func (s *Service) SetHolding(ctx context.Context, userID, code string, share, cost float64) error {
	if !models.ValidFundCode(code) {
		return fmt.Errorf("invalid fund code '%s'", code)
	}
	if share < 0 || cost < 0 {
		return fmt.Errorf("holding share and cost must be non-negative")
	}

	holdings, err := s.loadHoldings(ctx, userID)
	if err != nil {
		return err
	}

	h := models.Holding{Share: share, Cost: cost}
	if h.IsEmpty() {
		delete(holdings, code)
	} else {
		holdings[code] = h
	}
	if err := s.saveHoldings(ctx, userID, holdings); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("code", code).
		Float64("share", share).
		Float64("cost", cost).
		Msg("Holding set manually")
	return nil
}

// EnqueuePending queues a trade for later settlement, assigning a fresh
// id and timestamp.
func (s *Service) EnqueuePending(ctx context.Context, userID string, trade models.PendingTrade) (models.PendingTrade, error) {
	if !models.ValidFundCode(trade.FundCode) {
		return models.PendingTrade{}, fmt.Errorf("invalid fund code '%s'", trade.FundCode)
	}
	if !models.ValidTradeType(trade.Type) {
		return models.PendingTrade{}, fmt.Errorf("invalid trade type '%s'", trade.Type)
	}
	if _, err := trade.SettlementDate(); err != nil {
		return models.PendingTrade{}, err
	}

	trade.ID = uuid.NewString()
	trade.Timestamp = time.Now().UnixMilli()

	trades, err := s.loadTrades(ctx, userID)
	if err != nil {
		return models.PendingTrade{}, err
	}
	trades = append(trades, trade)
	if err := s.saveTrades(ctx, userID, trades); err != nil {
		return models.PendingTrade{}, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("trade_id", trade.ID).
		Str("code", trade.FundCode).
		Str("type", string(trade.Type)).
		Str("date", trade.Date).
		Msg("Trade queued for settlement")
	return trade, nil
}

// RevokePending removes a queued trade by id. No-op when absent.
func (s *Service) RevokePending(ctx context.Context, userID, id string) error {
	trades, err := s.loadTrades(ctx, userID)
	if err != nil {
		return err
	}

	kept := trades[:0]
	removed := false
	for _, t := range trades {
		if t.ID == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	if !removed {
		return nil
	}
	if err := s.saveTrades(ctx, userID, kept); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("trade_id", id).
		Msg("Pending trade revoked")
	return nil
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

func (s *Service) saveHoldings(ctx context.Context, userID string, holdings map[string]models.Holding) error {
	raw, err := json.Marshal(holdings)
	if err != nil {
		return fmt.Errorf("failed to encode holdings: %w", err)
	}
	if err := s.store.PutState(ctx, userID, models.KeyHoldings, raw); err != nil {
		return fmt.Errorf("failed to save holdings: %w", err)
	}
	s.dirty.MarkDirty(models.KeyHoldings)
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

func (s *Service) saveTrades(ctx context.Context, userID string, trades []models.PendingTrade) error {
	if trades == nil {
		trades = []models.PendingTrade{}
	}
	raw, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("failed to encode pending trades: %w", err)
	}
	if err := s.store.PutState(ctx, userID, models.KeyPendingTrades, raw); err != nil {
		return fmt.Errorf("failed to save pending trades: %w", err)
	}
	s.dirty.MarkDirty(models.KeyPendingTrades)
	return nil
}
