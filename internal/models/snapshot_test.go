package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(code string) FundSnapshot {
	return FundSnapshot{Code: code, Name: "fund " + code, NetValue: 1.0}
}

func TestCanonicalPayloadOrderIndependence(t *testing.T) {
	a := &UserState{
		Funds:     []FundSnapshot{snap("000001"), snap("000002"), snap("000003")},
		Favorites: []string{"000002", "000001"},
		Holdings: map[string]Holding{
			"000001": {Share: 10, Cost: 1.5},
			"000003": {Share: 5, Cost: 2},
		},
		PendingTrades: []PendingTrade{
			{ID: "b", FundCode: "000001", Type: TradeBuy, Amount: 100, Date: "2026-08-21"},
			{ID: "a", FundCode: "000002", Type: TradeSell, Share: 10, Date: "2026-08-21"},
		},
	}

	b := &UserState{
		Funds:     []FundSnapshot{snap("000003"), snap("000001"), snap("000002")},
		Favorites: []string{"000001", "000002"},
		Holdings: map[string]Holding{
			"000003": {Share: 5, Cost: 2},
			"000001": {Share: 10, Cost: 1.5},
		},
		PendingTrades: []PendingTrade{
			{ID: "a", FundCode: "000002", Type: TradeSell, Share: 10, Date: "2026-08-21"},
			{ID: "b", FundCode: "000001", Type: TradeBuy, Amount: 100, Date: "2026-08-21"},
		},
	}

	assert.Equal(t, string(CanonicalPayload(a)), string(CanonicalPayload(b)))
	assert.True(t, CanonicalEqual(a, b))
}

func TestCanonicalPayloadFiltersStaleReferences(t *testing.T) {
	a := &UserState{
		Funds:           []FundSnapshot{snap("000001"), snap("000002")},
		Favorites:       []string{"000002", "999999", "000001", "000002"},
		CollapsedCodes:  []string{"999999"},
		CollapsedTrends: []string{"000001", "000001"},
		Groups: []Group{
			{ID: "", Name: "dropped", Codes: []string{"000001"}},
			{ID: "g1", Name: "core", Codes: []string{"000002", "888888", "000002"}},
		},
		Holdings: map[string]Holding{
			"000001": {Share: 1, Cost: 1},
			"777777": {Share: 9, Cost: 9}, // unknown fund, dropped
			"000002": {},                  // empty, dropped
		},
		PendingTrades: []PendingTrade{
			{ID: "t1", FundCode: "666666", Type: TradeBuy, Amount: 1}, // unknown fund
			{ID: "t2", FundCode: "", Type: TradeBuy, Amount: 1},       // no code
		},
	}

	b := &UserState{
		Funds:           []FundSnapshot{snap("000001"), snap("000002")},
		Favorites:       []string{"000001", "000002"},
		CollapsedTrends: []string{"000001"},
		Groups:          []Group{{ID: "g1", Name: "core", Codes: []string{"000002"}}},
		Holdings:        map[string]Holding{"000001": {Share: 1, Cost: 1}},
	}

	assert.Equal(t, string(CanonicalPayload(b)), string(CanonicalPayload(a)))
}

// Order-independence: {favorites:["b","a"], groups:[]} with known funds
// equals {favorites:["a","b"]}.
func TestCanonicalPayloadFavoritesScenario(t *testing.T) {
	known := []FundSnapshot{snap("000001"), snap("000002")}
	a := &UserState{Funds: known, Favorites: []string{"000002", "000001"}, Groups: []Group{}}
	b := &UserState{Funds: known, Favorites: []string{"000001", "000002"}}
	assert.True(t, CanonicalEqual(a, b))
}

func TestCanonicalPayloadDefaults(t *testing.T) {
	a := &UserState{RefreshMs: 0, ViewMode: ""}
	b := &UserState{RefreshMs: DefaultRefreshMs, ViewMode: ViewModeCard}
	c := &UserState{RefreshMs: DefaultRefreshMs, ViewMode: "grid"}

	assert.True(t, CanonicalEqual(a, b))
	assert.True(t, CanonicalEqual(b, c))

	list := &UserState{RefreshMs: DefaultRefreshMs, ViewMode: ViewModeList}
	assert.False(t, CanonicalEqual(b, list))
}

// Canonicalizing the canonical form reinterpreted as raw state yields the
// same payload: the operation is idempotent.
func TestCanonicalPayloadIdempotent(t *testing.T) {
	a := &UserState{
		Funds:     []FundSnapshot{snap("000002"), snap("000001")},
		Favorites: []string{"000002", "000001", "777777"},
		Groups:    []Group{{ID: "g2", Name: "b"}, {ID: "g1", Name: "a", Codes: []string{"000001"}}},
		Holdings:  map[string]Holding{"000001": {Share: 3, Cost: 2}},
		PendingTrades: []PendingTrade{
			{ID: "z", FundCode: "000001", Type: TradeBuy, Amount: 10, Date: "2026-08-21"},
		},
	}

	first := CanonicalPayload(a)

	reread, err := StateFromJSON(first)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(CanonicalPayload(reread)))
}

func TestStateFromJSON(t *testing.T) {
	data := []byte(`{
		"funds": [{"code":"000001","name":"fund","netValue":1.5}],
		"favorites": ["000001"],
		"holdings": {"000001": {"share": 10, "cost": 1.2}},
		"refreshMs": "60000",
		"viewMode": "list",
		"unknownKey": {"ignored": true}
	}`)

	s, err := StateFromJSON(data)
	require.NoError(t, err)
	assert.Len(t, s.Funds, 1)
	assert.Equal(t, 60000, s.RefreshMs)
	assert.Equal(t, ViewModeList, s.ViewMode)
	assert.Equal(t, Holding{Share: 10, Cost: 1.2}, s.Holdings["000001"])
}

// Canonical documents carry funds as bare code strings; the decode must
// accept them alongside full snapshot objects.
func TestStateFromJSONBareFundCodes(t *testing.T) {
	s, err := StateFromJSON([]byte(`{"funds": ["000002", {"code":"000001","netValue":1.5}]}`))
	require.NoError(t, err)
	require.Len(t, s.Funds, 2)
	assert.Equal(t, FundSnapshot{Code: "000002"}, s.Funds[0])
	assert.Equal(t, "000001", s.Funds[1].Code)
	assert.Equal(t, 1.5, s.Funds[1].NetValue)
}

func TestStateFromJSONRejectsMalformed(t *testing.T) {
	_, err := StateFromJSON([]byte(`{"holdings": ["not", "a", "map"]}`))
	assert.Error(t, err)

	_, err = StateFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeStateValueRefreshFloor(t *testing.T) {
	s := NewUserState()
	require.NoError(t, s.DecodeStateValue(KeyRefreshMs, []byte("1000")))
	assert.Equal(t, MinRefreshMs, s.RefreshMs)
}
