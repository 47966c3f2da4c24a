package models

import "time"

// ExportDocument is the portable backup format: the full tracked state
// plus the export timestamp.
type ExportDocument struct {
	Funds           []FundSnapshot     `json:"funds"`
	Favorites       []FundCode         `json:"favorites"`
	Groups          []Group            `json:"groups"`
	CollapsedCodes  []FundCode         `json:"collapsedCodes"`
	CollapsedTrends []FundCode         `json:"collapsedTrends"`
	Holdings        map[string]Holding `json:"holdings"`
	PendingTrades   []PendingTrade     `json:"pendingTrades"`
	RefreshMs       int                `json:"refreshMs"`
	ViewMode        string             `json:"viewMode"`
	ExportedAt      time.Time          `json:"exportedAt"`
}

// NewExportDocument snapshots the state for export.
func NewExportDocument(s *UserState, now time.Time) *ExportDocument {
	return &ExportDocument{
		Funds:           s.Funds,
		Favorites:       s.Favorites,
		Groups:          s.Groups,
		CollapsedCodes:  s.CollapsedCodes,
		CollapsedTrends: s.CollapsedTrends,
		Holdings:        s.Holdings,
		PendingTrades:   s.PendingTrades,
		RefreshMs:       s.RefreshMs,
		ViewMode:        s.ViewMode,
		ExportedAt:      now,
	}
}

// MergeInto merges the document into the state by code/id union rather
// than replacement: existing entries win on conflict, imported entries
// fill the gaps. Returns the number of funds, holdings, and trades added.
func (d *ExportDocument) MergeInto(s *UserState) (funds, holdings, trades int) {
	for _, f := range d.Funds {
		if f.Code == "" || s.HasFund(f.Code) {
			continue
		}
		s.Funds = append(s.Funds, f)
		funds++
	}

	s.Favorites = unionCodes(s.Favorites, d.Favorites)
	s.CollapsedCodes = unionCodes(s.CollapsedCodes, d.CollapsedCodes)
	s.CollapsedTrends = unionCodes(s.CollapsedTrends, d.CollapsedTrends)

	for _, g := range d.Groups {
		if g.ID == "" {
			continue
		}
		if idx := groupIndex(s.Groups, g.ID); idx >= 0 {
			s.Groups[idx].Codes = unionCodes(s.Groups[idx].Codes, g.Codes)
		} else {
			s.Groups = append(s.Groups, g)
		}
	}

	if s.Holdings == nil {
		s.Holdings = map[string]Holding{}
	}
	for code, h := range d.Holdings {
		if _, exists := s.Holdings[code]; exists || h.IsEmpty() {
			continue
		}
		s.Holdings[code] = h
		holdings++
	}

	for _, t := range d.PendingTrades {
		if t.FundCode == "" || hasTradeID(s.PendingTrades, t.ID) {
			continue
		}
		s.PendingTrades = append(s.PendingTrades, t)
		trades++
	}

	if s.RefreshMs <= 0 && d.RefreshMs >= MinRefreshMs {
		s.RefreshMs = d.RefreshMs
	}
	if s.ViewMode == "" {
		s.ViewMode = d.ViewMode
	}
	return funds, holdings, trades
}

func unionCodes(dst, src []FundCode) []FundCode {
	seen := make(map[string]struct{}, len(dst))
	for _, c := range dst {
		seen[c] = struct{}{}
	}
	for _, c := range src {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}

func groupIndex(groups []Group, id string) int {
	for i := range groups {
		if groups[i].ID == id {
			return i
		}
	}
	return -1
}

func hasTradeID(trades []PendingTrade, id string) bool {
	if id == "" {
		return false
	}
	for _, t := range trades {
		if t.ID == id {
			return true
		}
	}
	return false
}
