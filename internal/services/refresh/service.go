// Package refresh drives the valuation refresh cycle: every tracked fund
// is re-fetched sequentially, then the settlement queue gets one pass.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// ErrRefreshInProgress mirrors the contract sentinel for callers that
// import only this package.
var ErrRefreshInProgress = interfaces.ErrRefreshInProgress

// Service implements interfaces.RefreshService.
type Service struct {
	store      interfaces.LocalStateStore
	gateway    interfaces.ValuationGateway
	settlement interfaces.SettlementService
	dirty      interfaces.DirtyMarker
	logger     *common.Logger

	busy atomic.Bool
}

// NewService creates the refresh service.
func NewService(store interfaces.LocalStateStore, gateway interfaces.ValuationGateway, settlement interfaces.SettlementService, dirty interfaces.DirtyMarker, logger *common.Logger) *Service {
	return &Service{
		store:      store,
		gateway:    gateway,
		settlement: settlement,
		dirty:      dirty,
		logger:     logger,
	}
}

// RefreshAll fetches every tracked fund in insertion order, collecting
// per-fund failures instead of aborting, then runs a settlement pass.
// Only one cycle runs at a time.
func (s *Service) RefreshAll(ctx context.Context, userID string) (*interfaces.RefreshReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer s.busy.Store(false)

	funds, err := s.loadFunds(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &interfaces.RefreshReport{}
	changed := false
	for i, fund := range funds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snapshot, err := s.gateway.FetchFund(ctx, string(fund.Code))
		if err != nil {
			report.Failures = append(report.Failures, interfaces.ItemFailure{
				Code:  string(fund.Code),
				Error: err.Error(),
			})
			s.logger.Warn().Err(err).Str("code", string(fund.Code)).Msg("Fund refresh failed, keeping stale snapshot")
			continue
		}
		funds[i] = *snapshot
		report.Refreshed++
		changed = true
	}

	if changed {
		if err := s.saveFunds(ctx, userID, funds); err != nil {
			return nil, err
		}
	}

	settled, err := s.settlement.ProcessPending(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Settlement pass failed after refresh")
	} else {
		report.Settlement = settled
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("refreshed", report.Refreshed).
		Int("failed", len(report.Failures)).
		Msg("Refresh cycle complete")
	return report, nil
}

// AddFunds adds codes to the tracked list, fetching a snapshot for each.
// Already-tracked and failing codes are skipped; failures are reported
// per item.
func (s *Service) AddFunds(ctx context.Context, userID string, codes []string) ([]models.FundSnapshot, []interfaces.ItemFailure, error) {
	funds, err := s.loadFunds(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	tracked := make(map[string]struct{}, len(funds))
	for _, f := range funds {
		tracked[f.Code] = struct{}{}
	}

	var added []models.FundSnapshot
	var failures []interfaces.ItemFailure
	for _, code := range codes {
		if !models.ValidFundCode(code) {
			failures = append(failures, interfaces.ItemFailure{Code: code, Error: "invalid fund code"})
			continue
		}
		if _, ok := tracked[code]; ok {
			continue
		}
		snapshot, err := s.gateway.FetchFund(ctx, code)
		if err != nil {
			failures = append(failures, interfaces.ItemFailure{Code: code, Error: err.Error()})
			continue
		}
		tracked[code] = struct{}{}
		funds = append(funds, *snapshot)
		added = append(added, *snapshot)
	}

	if len(added) > 0 {
		if err := s.saveFunds(ctx, userID, funds); err != nil {
			return nil, nil, err
		}
		s.logger.Info().Str("user_id", userID).Int("added", len(added)).Msg("Funds added to watchlist")
	}
	return added, failures, nil
}

// RemoveFund stops tracking a code. Holdings, favorites, and queued
// trades referencing it survive in storage but drop out of the canonical
// view until the code returns.
func (s *Service) RemoveFund(ctx context.Context, userID, code string) error {
	funds, err := s.loadFunds(ctx, userID)
	if err != nil {
		return err
	}

	kept := funds[:0]
	removed := false
	for _, f := range funds {
		if f.Code == code {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	if !removed {
		return nil
	}
	if err := s.saveFunds(ctx, userID, kept); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", userID).Str("code", code).Msg("Fund removed from watchlist")
	return nil
}

func (s *Service) loadFunds(ctx context.Context, userID string) ([]models.FundSnapshot, error) {
	raw, err := s.store.GetState(ctx, userID, models.KeyFunds)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load funds: %w", err)
	}
	var funds []models.FundSnapshot
	if err := json.Unmarshal(raw, &funds); err != nil {
		return nil, fmt.Errorf("corrupt funds value: %w", err)
	}
	return funds, nil
}

func (s *Service) saveFunds(ctx context.Context, userID string, funds []models.FundSnapshot) error {
	if funds == nil {
		funds = []models.FundSnapshot{}
	}
	raw, err := json.Marshal(funds)
	if err != nil {
		return fmt.Errorf("failed to encode funds: %w", err)
	}
	if err := s.store.PutState(ctx, userID, models.KeyFunds, raw); err != nil {
		return fmt.Errorf("failed to save funds: %w", err)
	}
	s.dirty.MarkDirty(models.KeyFunds)
	return nil
}
