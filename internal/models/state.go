package models

import (
	"encoding/json"
	"fmt"
)

// Tracked state keys. These are both the local persisted storage keys and
// the dirty-key vocabulary of the sync coordinator.
const (
	KeyFunds           = "funds"
	KeyFavorites       = "favorites"
	KeyGroups          = "groups"
	KeyCollapsedCodes  = "collapsedCodes"
	KeyCollapsedTrends = "collapsedTrends"
	KeyHoldings        = "holdings"
	KeyPendingTrades   = "pendingTrades"
	KeyRefreshMs       = "refreshMs"
	KeyViewMode        = "viewMode"
)

// TrackedKeys lists every synced state key in a fixed order.
var TrackedKeys = []string{
	KeyFunds,
	KeyFavorites,
	KeyGroups,
	KeyCollapsedCodes,
	KeyCollapsedTrends,
	KeyHoldings,
	KeyPendingTrades,
	KeyRefreshMs,
	KeyViewMode,
}

// ValidStateKey reports whether key is a tracked state key.
func ValidStateKey(key string) bool {
	for _, k := range TrackedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Refresh interval and view mode bounds.
const (
	DefaultRefreshMs = 30000
	MinRefreshMs     = 5000

	ViewModeCard = "card"
	ViewModeList = "list"
)

// UserState is the full tracked configuration of one user: the watched
// funds, their presentation flags, the holdings ledger, and the pending
// trade queue. It is the unit mirrored between local storage and the
// remote config store.
type UserState struct {
	Funds           []FundSnapshot      `json:"funds"`
	Favorites       []FundCode          `json:"favorites"`
	Groups          []Group             `json:"groups"`
	CollapsedCodes  []FundCode          `json:"collapsedCodes"`
	CollapsedTrends []FundCode          `json:"collapsedTrends"`
	Holdings        map[string]Holding  `json:"holdings"`
	PendingTrades   []PendingTrade      `json:"pendingTrades"`
	RefreshMs       int                 `json:"refreshMs"`
	ViewMode        string              `json:"viewMode"`
}

// NewUserState returns an empty state with defaults applied.
func NewUserState() *UserState {
	return &UserState{
		Holdings:  map[string]Holding{},
		RefreshMs: DefaultRefreshMs,
		ViewMode:  ViewModeCard,
	}
}

// FundCodes returns the codes of all tracked funds in insertion order,
// deduplicated.
func (s *UserState) FundCodes() []FundCode {
	seen := make(map[string]struct{}, len(s.Funds))
	codes := make([]FundCode, 0, len(s.Funds))
	for _, f := range s.Funds {
		if f.Code == "" {
			continue
		}
		if _, ok := seen[f.Code]; ok {
			continue
		}
		seen[f.Code] = struct{}{}
		codes = append(codes, f.Code)
	}
	return codes
}

// HasFund reports whether code is tracked.
func (s *UserState) HasFund(code FundCode) bool {
	for _, f := range s.Funds {
		if f.Code == code {
			return true
		}
	}
	return false
}

// ValueForKey returns the value behind a tracked key, for building partial
// sync payloads.
func (s *UserState) ValueForKey(key string) (any, error) {
	switch key {
	case KeyFunds:
		return s.Funds, nil
	case KeyFavorites:
		return s.Favorites, nil
	case KeyGroups:
		return s.Groups, nil
	case KeyCollapsedCodes:
		return s.CollapsedCodes, nil
	case KeyCollapsedTrends:
		return s.CollapsedTrends, nil
	case KeyHoldings:
		return s.Holdings, nil
	case KeyPendingTrades:
		return s.PendingTrades, nil
	case KeyRefreshMs:
		return s.RefreshMs, nil
	case KeyViewMode:
		return s.ViewMode, nil
	default:
		return nil, fmt.Errorf("unknown state key '%s'", key)
	}
}

// DecodeStateValue validates and decodes one tracked key's JSON value into
// the state. Malformed payloads are rejected rather than silently
// defaulted; callers decide whether to drop or surface the error.
func (s *UserState) DecodeStateValue(key string, raw []byte) error {
	switch key {
	case KeyFunds:
		return decodeInto(key, raw, &s.Funds)
	case KeyFavorites:
		return decodeInto(key, raw, &s.Favorites)
	case KeyGroups:
		return decodeInto(key, raw, &s.Groups)
	case KeyCollapsedCodes:
		return decodeInto(key, raw, &s.CollapsedCodes)
	case KeyCollapsedTrends:
		return decodeInto(key, raw, &s.CollapsedTrends)
	case KeyHoldings:
		return decodeInto(key, raw, &s.Holdings)
	case KeyPendingTrades:
		return decodeInto(key, raw, &s.PendingTrades)
	case KeyRefreshMs:
		// Tolerate stringified integers from older dashboard exports.
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			var str string
			if err2 := json.Unmarshal(raw, &str); err2 != nil {
				return fmt.Errorf("invalid value for '%s': %w", key, err)
			}
			if _, err2 := fmt.Sscanf(str, "%d", &n); err2 != nil {
				return fmt.Errorf("invalid value for '%s': %w", key, err)
			}
		}
		if n < MinRefreshMs {
			n = MinRefreshMs
		}
		s.RefreshMs = n
		return nil
	case KeyViewMode:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid value for '%s': %w", key, err)
		}
		if v != ViewModeList {
			v = ViewModeCard
		}
		s.ViewMode = v
		return nil
	default:
		return fmt.Errorf("unknown state key '%s'", key)
	}
}

func decodeInto(key string, raw []byte, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("invalid value for '%s': %w", key, err)
	}
	return nil
}
