package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.app.StartupTime).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// --- State handlers ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	state, err := s.app.Store.LoadUserState(r.Context(), s.app.UserID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error loading state: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// putStateKey writes one tracked key and marks it dirty.
func (s *Server) putStateKey(r *http.Request, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.app.Store.PutState(r.Context(), s.app.UserID, key, raw); err != nil {
		return err
	}
	s.app.Marker.MarkDirty(key)
	return nil
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	var req struct {
		Favorites []string `json:"favorites"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Favorites == nil {
		req.Favorites = []string{}
	}
	if err := s.putStateKey(r, models.KeyFavorites, req.Favorites); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving favorites: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"favorites": req.Favorites})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	var req struct {
		Groups []models.Group `json:"groups"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Groups == nil {
		req.Groups = []models.Group{}
	}
	for _, g := range req.Groups {
		if err := g.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.putStateKey(r, models.KeyGroups, req.Groups); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving groups: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"groups": req.Groups})
}

func (s *Server) handleCollapsed(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	var req struct {
		Codes  *[]string `json:"codes"`
		Trends *[]string `json:"trends"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Codes == nil && req.Trends == nil {
		WriteError(w, http.StatusBadRequest, "codes or trends is required")
		return
	}
	if req.Codes != nil {
		if err := s.putStateKey(r, models.KeyCollapsedCodes, *req.Codes); err != nil {
			WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving collapsed codes: %v", err))
			return
		}
	}
	if req.Trends != nil {
		if err := s.putStateKey(r, models.KeyCollapsedTrends, *req.Trends); err != nil {
			WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving collapsed trends: %v", err))
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "saved"})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	var req struct {
		RefreshMs *int    `json:"refreshMs"`
		ViewMode  *string `json:"viewMode"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.RefreshMs == nil && req.ViewMode == nil {
		WriteError(w, http.StatusBadRequest, "refreshMs or viewMode is required")
		return
	}

	resp := map[string]interface{}{}
	if req.RefreshMs != nil {
		ms := *req.RefreshMs
		if ms < models.MinRefreshMs {
			ms = models.MinRefreshMs
		}
		if err := s.putStateKey(r, models.KeyRefreshMs, ms); err != nil {
			WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving refresh interval: %v", err))
			return
		}
		resp["refreshMs"] = ms
	}
	if req.ViewMode != nil {
		mode := *req.ViewMode
		if mode != models.ViewModeList {
			mode = models.ViewModeCard
		}
		if err := s.putStateKey(r, models.KeyViewMode, mode); err != nil {
			WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving view mode: %v", err))
			return
		}
		resp["viewMode"] = mode
	}
	WriteJSON(w, http.StatusOK, resp)
}

// --- Fund handlers ---

func (s *Server) handleFundAdd(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Codes []string `json:"codes"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Codes) == 0 {
		WriteError(w, http.StatusBadRequest, "codes is required")
		return
	}

	added, failures, err := s.app.RefreshService.AddFunds(r.Context(), s.app.UserID, req.Codes)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error adding funds: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"added":    added,
		"failures": failures,
	})
}

func (s *Server) handleFundRemove(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	if !models.ValidFundCode(code) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid fund code '%s'", code))
		return
	}
	if err := s.app.RefreshService.RemoveFund(r.Context(), s.app.UserID, code); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error removing fund: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"removed": code})
}

// --- Holding handlers ---

func (s *Server) handleHoldingSet(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	var req struct {
		Share float64 `json:"share"`
		Cost  float64 `json:"cost"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := s.app.LedgerService.SetHolding(r.Context(), s.app.UserID, code, req.Share, req.Cost); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Error setting holding: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"code":  code,
		"share": req.Share,
		"cost":  req.Cost,
	})
}

// --- Trade handlers ---

// handleTradeSubmit applies a trade immediately when its settlement NAV
// is already published, otherwise queues it for the settlement engine.
func (s *Server) handleTradeSubmit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var trade models.PendingTrade
	if !DecodeJSON(w, r, &trade) {
		return
	}
	if !models.ValidFundCode(trade.FundCode) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid fund code '%s'", trade.FundCode))
		return
	}
	if !models.ValidTradeType(trade.Type) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid trade type '%s'", trade.Type))
		return
	}
	settleDate, err := trade.SettlementDate()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	nav, err := s.app.Gateway.FetchNetValueOn(r.Context(), trade.FundCode, settleDate)
	if err != nil {
		s.logger.Warn().Err(err).Str("code", trade.FundCode).Msg("Trade NAV lookup failed, queueing")
	}
	if nav.Settleable() {
		holding, err := s.applyImmediate(r, trade, nav)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("Error applying trade: %v", err))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"settled": true,
			"nav":     nav,
			"holding": holding,
		})
		return
	}

	queued, err := s.app.LedgerService.EnqueuePending(r.Context(), s.app.UserID, trade)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Error queueing trade: %v", err))
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"settled": false,
		"trade":   queued,
	})
}

func (s *Server) applyImmediate(r *http.Request, trade models.PendingTrade, nav *models.NetValue) (models.Holding, error) {
	switch trade.Type {
	case models.TradeBuy:
		share := trade.NetAmount() / nav.Value
		return s.app.LedgerService.Buy(r.Context(), s.app.UserID, trade.FundCode, share, nav.Value)
	default:
		return s.app.LedgerService.Sell(r.Context(), s.app.UserID, trade.FundCode, trade.Share)
	}
}

func (s *Server) handleTradeRevoke(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	if err := s.app.LedgerService.RevokePending(r.Context(), s.app.UserID, id); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error revoking trade: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"revoked": id})
}

// --- Refresh handler ---

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	report, err := s.app.RefreshService.RefreshAll(r.Context(), s.app.UserID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRefreshInProgress) {
			WriteError(w, http.StatusConflict, "Refresh already in progress")
			return
		}
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Refresh error: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
