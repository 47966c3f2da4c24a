package data

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/fundwatch/internal/models"
)

func TestFetchMissingUser(t *testing.T) {
	store := testStore(t)
	ctx := testContext()

	_, err := store.Fetch(ctx, "never_synced")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpsertFetchRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := testContext()

	state := models.NewUserState()
	state.Funds = []models.FundSnapshot{{Code: "161725", Name: "Fund A", NetValue: 1.5, NetValueDate: "2026-08-28"}}
	state.Favorites = []models.FundCode{"161725"}
	blob, err := json.Marshal(state)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "alice", blob))

	doc, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.UserID)
	assert.False(t, doc.UpdatedAt.IsZero())

	fetched, err := models.StateFromJSON(doc.Data)
	require.NoError(t, err)
	assert.Equal(t, []models.FundCode{"161725"}, fetched.FundCodes())
	assert.Equal(t, []models.FundCode{"161725"}, fetched.Favorites)
}

func TestUpsertOverwrites(t *testing.T) {
	store := testStore(t)
	ctx := testContext()

	first := models.NewUserState()
	first.Funds = []models.FundSnapshot{{Code: "161725", Name: "Fund A"}}
	blob, _ := json.Marshal(first)
	require.NoError(t, store.Upsert(ctx, "alice", blob))

	second := models.NewUserState()
	second.Funds = []models.FundSnapshot{{Code: "000001", Name: "Fund B"}}
	blob, _ = json.Marshal(second)
	require.NoError(t, store.Upsert(ctx, "alice", blob))

	doc, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	fetched, err := models.StateFromJSON(doc.Data)
	require.NoError(t, err)
	assert.Equal(t, []models.FundCode{"000001"}, fetched.FundCodes())
}

func TestMergeKeysPartialUpdate(t *testing.T) {
	store := testStore(t)
	ctx := testContext()

	state := models.NewUserState()
	state.Funds = []models.FundSnapshot{{Code: "161725", Name: "Fund A"}}
	state.Favorites = []models.FundCode{}
	blob, _ := json.Marshal(state)
	require.NoError(t, store.Upsert(ctx, "alice", blob))

	favorites, _ := json.Marshal([]string{"161725"})
	require.NoError(t, store.MergeKeys(ctx, "alice", map[string]json.RawMessage{
		"favorites": favorites,
	}))

	doc, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	fetched, err := models.StateFromJSON(doc.Data)
	require.NoError(t, err)
	// Merged key updated, untouched keys preserved.
	assert.Equal(t, []models.FundCode{"161725"}, fetched.Favorites)
	assert.Equal(t, []models.FundCode{"161725"}, fetched.FundCodes())
}

func TestMergeKeysCreatesRow(t *testing.T) {
	store := testStore(t)
	ctx := testContext()

	holdings, _ := json.Marshal(map[string]models.Holding{
		"161725": {Share: 100, Cost: 1.5},
	})
	require.NoError(t, store.MergeKeys(ctx, "fresh", map[string]json.RawMessage{
		"holdings": holdings,
	}))

	doc, err := store.Fetch(ctx, "fresh")
	require.NoError(t, err)
	fetched, err := models.StateFromJSON(doc.Data)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, fetched.Holdings["161725"].Share, 1e-9)
}

func TestUserIsolation(t *testing.T) {
	store := testStore(t)
	ctx := testContext()

	state := models.NewUserState()
	state.Funds = []models.FundSnapshot{{Code: "161725", Name: "Fund A"}}
	blob, _ := json.Marshal(state)
	require.NoError(t, store.Upsert(ctx, "alice", blob))

	_, err := store.Fetch(ctx, "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store := testStore(t)
	ctx, cancel := testContextWithTimeout(30 * time.Second)
	defer cancel()

	seed := models.NewUserState()
	blob, _ := json.Marshal(seed)
	require.NoError(t, store.Upsert(ctx, "alice", blob))

	events, err := store.Subscribe(ctx, "alice")
	require.NoError(t, err)

	updated := models.NewUserState()
	updated.Funds = []models.FundSnapshot{{Code: "161725", Name: "Fund A"}}
	blob, _ = json.Marshal(updated)
	require.NoError(t, store.Upsert(ctx, "alice", blob))

	select {
	case event := <-events:
		assert.Contains(t, []models.SyncEventAction{models.SyncEventCreate, models.SyncEventUpdate}, event.Action)
		assert.Equal(t, "alice", event.Document.UserID)
		fetched, err := models.StateFromJSON(event.Document.Data)
		require.NoError(t, err)
		assert.Equal(t, []models.FundCode{"161725"}, fetched.FundCodes())
	case <-time.After(10 * time.Second):
		t.Fatal("no live event received")
	}
}
