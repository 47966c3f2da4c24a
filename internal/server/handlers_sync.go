package server

import (
	"fmt"
	"net/http"

	"github.com/bobmcallan/fundwatch/internal/models"
)

// syncEnabled guards the sync endpoints when no coordinator is wired.
func (s *Server) syncEnabled(w http.ResponseWriter) bool {
	if s.app.Sync == nil {
		WriteError(w, http.StatusServiceUnavailable, "Sync is not configured")
		return false
	}
	return true
}

func (s *Server) handleSyncLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.syncEnabled(w) {
		return
	}

	conflict, err := s.app.Sync.Login(r.Context())
	if err != nil {
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("Sync login failed: %v", err))
		return
	}
	if conflict != nil {
		WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"status":   "conflict",
			"conflict": conflict,
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "synced"})
}

func (s *Server) handleSyncLogout(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.syncEnabled(w) {
		return
	}
	s.app.Sync.Logout()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "disabled"})
}

func (s *Server) handleSyncResolve(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.syncEnabled(w) {
		return
	}

	var req struct {
		Choice models.ConflictChoice `json:"choice"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Choice != models.KeepLocal && req.Choice != models.KeepRemote {
		WriteError(w, http.StatusBadRequest, "choice must be keep_local or keep_remote")
		return
	}

	if err := s.app.Sync.ResolveConflict(r.Context(), req.Choice); err != nil {
		WriteError(w, http.StatusConflict, fmt.Sprintf("Resolve failed: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "resolved", "choice": req.Choice})
}

func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.syncEnabled(w) {
		return
	}
	if err := s.app.Sync.PushLocal(r.Context()); err != nil {
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("Push failed: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "pushed"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.app.Sync == nil {
		WriteJSON(w, http.StatusOK, models.SyncStatus{State: "disabled"})
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Sync.Status())
}
