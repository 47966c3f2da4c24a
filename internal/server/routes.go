package server

import (
	"net/http"
	"strings"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	// State
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/state/favorites", s.handleFavorites)
	mux.HandleFunc("/api/state/groups", s.handleGroups)
	mux.HandleFunc("/api/state/collapsed", s.handleCollapsed)
	mux.HandleFunc("/api/state/settings", s.handleSettings)

	// Funds
	mux.HandleFunc("/api/funds/", s.routeFunds)
	mux.HandleFunc("/api/funds", s.handleFundAdd)

	// Holdings
	mux.HandleFunc("/api/holdings/", s.routeHoldings)

	// Trades
	mux.HandleFunc("/api/trades/", s.routeTrades)
	mux.HandleFunc("/api/trades", s.handleTradeSubmit)

	// Refresh
	mux.HandleFunc("/api/refresh", s.handleRefresh)

	// Sync
	mux.HandleFunc("/api/sync/login", s.handleSyncLogin)
	mux.HandleFunc("/api/sync/logout", s.handleSyncLogout)
	mux.HandleFunc("/api/sync/resolve", s.handleSyncResolve)
	mux.HandleFunc("/api/sync/push", s.handleSyncPush)
	mux.HandleFunc("/api/sync/status", s.handleSyncStatus)

	// Export / import
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/import", s.handleImport)
}

// routeFunds dispatches /api/funds/{code} to the appropriate handler.
func (s *Server) routeFunds(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimPrefix(r.URL.Path, "/api/funds/")
	if code == "" || strings.Contains(code, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	s.handleFundRemove(w, r, code)
}

// routeHoldings dispatches /api/holdings/{code}.
func (s *Server) routeHoldings(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimPrefix(r.URL.Path, "/api/holdings/")
	if code == "" || strings.Contains(code, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	s.handleHoldingSet(w, r, code)
}

// routeTrades dispatches /api/trades/{id}.
func (s *Server) routeTrades(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/trades/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	s.handleTradeRevoke(w, r, id)
}
