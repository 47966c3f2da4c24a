package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/fundwatch/internal/models"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	state, err := s.app.Store.LoadUserState(r.Context(), s.app.UserID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error loading state: %v", err))
		return
	}
	doc := models.NewExportDocument(state, time.Now())
	w.Header().Set("Content-Disposition", `attachment; filename="fundwatch-export.json"`)
	WriteJSON(w, http.StatusOK, doc)
}

// handleImport merges an exported document into the current state:
// existing entries win, imported entries fill the gaps.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var doc models.ExportDocument
	if !DecodeJSON(w, r, &doc) {
		return
	}

	state, err := s.app.Store.LoadUserState(r.Context(), s.app.UserID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error loading state: %v", err))
		return
	}

	funds, holdings, trades := doc.MergeInto(state)
	if err := s.app.Store.SaveUserState(r.Context(), s.app.UserID, state); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving state: %v", err))
		return
	}
	for _, key := range models.TrackedKeys {
		s.app.Marker.MarkDirty(key)
	}

	s.logger.Info().
		Int("funds", funds).
		Int("holdings", holdings).
		Int("trades", trades).
		Msg("Export document imported")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"fundsAdded":    funds,
		"holdingsAdded": holdings,
		"tradesAdded":   trades,
	})
}
