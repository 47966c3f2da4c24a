package models

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Canonicalization produces a comparable, order-independent view of the
// full user configuration. Local and remote copies of the same state can
// drift in array ordering, carry references to funds that were removed, or
// round-trip numbers as strings; canonical payloads make "did anything
// meaningfully change" decidable by byte equality. That equality gates
// both outgoing pushes (skip when unchanged) and incoming remote payloads
// (skip echoes of our own writes).

type canonicalGroup struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Codes []string `json:"codes"`
}

type canonicalTrade struct {
	ID         string  `json:"id,omitempty"`
	FundCode   string  `json:"fundCode"`
	Type       string  `json:"type"`
	Share      float64 `json:"share"`
	Amount     float64 `json:"amount"`
	FeeRate    float64 `json:"feeRate"`
	FeeMode    string  `json:"feeMode"`
	FeeValue   float64 `json:"feeValue"`
	Date       string  `json:"date"`
	IsAfter3pm bool    `json:"isAfter3pm"`
	Timestamp  int64   `json:"timestamp"`
}

type canonicalState struct {
	Funds           []string            `json:"funds"`
	Favorites       []string            `json:"favorites"`
	Groups          []canonicalGroup    `json:"groups"`
	CollapsedCodes  []string            `json:"collapsedCodes"`
	CollapsedTrends []string            `json:"collapsedTrends"`
	RefreshMs       int                 `json:"refreshMs"`
	Holdings        map[string]Holding  `json:"holdings"`
	PendingTrades   []canonicalTrade    `json:"pendingTrades"`
	ViewMode        string              `json:"viewMode"`
}

// CanonicalPayload serializes the state into its canonical comparable
// form: sub-collections filtered to currently-known fund codes,
// deduplicated, and sorted into a stable order. Two states are equal iff
// their canonical payloads are byte-equal.
func CanonicalPayload(s *UserState) []byte {
	known := make(map[string]struct{})
	for _, f := range s.Funds {
		if f.Code != "" {
			known[f.Code] = struct{}{}
		}
	}

	c := canonicalState{
		Funds:           sortedCodes(known),
		Favorites:       filterCodes(s.Favorites, known),
		CollapsedCodes:  filterCodes(s.CollapsedCodes, known),
		CollapsedTrends: filterCodes(s.CollapsedTrends, known),
		Groups:          []canonicalGroup{},
		Holdings:        map[string]Holding{},
		PendingTrades:   []canonicalTrade{},
		RefreshMs:       s.RefreshMs,
		ViewMode:        s.ViewMode,
	}

	if c.RefreshMs <= 0 {
		c.RefreshMs = DefaultRefreshMs
	}
	if c.ViewMode != ViewModeList {
		c.ViewMode = ViewModeCard
	}

	for _, g := range s.Groups {
		if g.ID == "" {
			continue
		}
		c.Groups = append(c.Groups, canonicalGroup{
			ID:    g.ID,
			Name:  g.Name,
			Codes: filterCodes(g.Codes, known),
		})
	}
	sort.Slice(c.Groups, func(i, j int) bool { return c.Groups[i].ID < c.Groups[j].ID })

	for code, h := range s.Holdings {
		if _, ok := known[code]; !ok {
			continue
		}
		if h.IsEmpty() {
			continue
		}
		c.Holdings[code] = h
	}

	for _, t := range s.PendingTrades {
		if t.FundCode == "" {
			continue
		}
		if _, ok := known[t.FundCode]; !ok {
			continue
		}
		c.PendingTrades = append(c.PendingTrades, canonicalTrade{
			ID:         t.ID,
			FundCode:   t.FundCode,
			Type:       string(t.Type),
			Share:      t.Share,
			Amount:     t.Amount,
			FeeRate:    t.FeeRate,
			FeeMode:    string(t.FeeMode),
			FeeValue:   t.FeeValue,
			Date:       t.Date,
			IsAfter3pm: t.IsAfter3pm,
			Timestamp:  t.Timestamp,
		})
	}
	sort.Slice(c.PendingTrades, func(i, j int) bool {
		return tradeKey(c.PendingTrades[i]) < tradeKey(c.PendingTrades[j])
	})

	// Marshal of plain structs, strings, and float64s cannot fail; maps
	// serialize with sorted keys, keeping the holdings section stable.
	b, _ := json.Marshal(c)
	return b
}

// CanonicalEqual compares two states by canonical payload.
func CanonicalEqual(a, b *UserState) bool {
	return bytes.Equal(CanonicalPayload(a), CanonicalPayload(b))
}

// StateFromJSON decodes a full-state JSON document (the remote store's
// data blob, or an exported file's state section) with per-key
// validation. Unknown keys are ignored; malformed values for tracked keys
// are rejected.
func StateFromJSON(data []byte) (*UserState, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	s := NewUserState()
	for _, key := range TrackedKeys {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := s.DecodeStateValue(key, raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func tradeKey(t canonicalTrade) string {
	if t.ID != "" {
		return t.ID
	}
	return PendingTrade{
		FundCode:   t.FundCode,
		Type:       TradeType(t.Type),
		Share:      t.Share,
		Amount:     t.Amount,
		FeeRate:    t.FeeRate,
		FeeMode:    FeeMode(t.FeeMode),
		FeeValue:   t.FeeValue,
		Date:       t.Date,
		IsAfter3pm: t.IsAfter3pm,
		Timestamp:  t.Timestamp,
	}.SortKey()
}

func filterCodes(codes []string, known map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := known[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func sortedCodes(known map[string]struct{}) []string {
	out := make([]string, 0, len(known))
	for c := range known {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
