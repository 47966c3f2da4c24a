package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/models"
	"github.com/bobmcallan/fundwatch/internal/storage/localdb"
)

// fakeGateway serves canned valuations keyed by fund code, or by
// settlement date when byDate is set.
type fakeGateway struct {
	values map[string]*models.NetValue
	byDate map[string]*models.NetValue
	errs   map[string]error
	calls  int
}

func (g *fakeGateway) FetchFund(ctx context.Context, code string) (*models.FundSnapshot, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) FetchNetValueOn(ctx context.Context, code string, date time.Time) (*models.NetValue, error) {
	g.calls++
	if err, ok := g.errs[code]; ok {
		return nil, err
	}
	if g.byDate != nil {
		return g.byDate[date.Format("2006-01-02")], nil
	}
	return g.values[code], nil
}

type dirtyRecorder struct {
	keys []string
}

func (d *dirtyRecorder) MarkDirty(key string) {
	d.keys = append(d.keys, key)
}

// attemptNone is a retry policy that skips every trade.
type attemptNone struct{}

func (attemptNone) ShouldAttempt(models.PendingTrade) bool { return false }

func newTestHarness(t *testing.T, gateway *fakeGateway) (*Service, *localdb.Store, *dirtyRecorder) {
	t.Helper()
	logger := common.NewSilentLogger()
	store, err := localdb.NewStore(logger, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dirty := &dirtyRecorder{}
	return NewService(store, gateway, dirty, nil, logger), store, dirty
}

func seedState(t *testing.T, store *localdb.Store, state *models.UserState) {
	t.Helper()
	require.NoError(t, store.SaveUserState(context.Background(), "default", state))
}

func loadState(t *testing.T, store *localdb.Store) *models.UserState {
	t.Helper()
	state, err := store.LoadUserState(context.Background(), "default")
	require.NoError(t, err)
	return state
}

func TestProcessPendingEmptyQueue(t *testing.T) {
	svc, _, dirty := newTestHarness(t, &fakeGateway{})

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 0, result.Remaining)
	assert.Empty(t, dirty.keys)
}

func TestProcessPendingSettlesBuy(t *testing.T) {
	gateway := &fakeGateway{values: map[string]*models.NetValue{
		"161725": {Value: 2.0, Date: "2026-08-28"},
	}}
	svc, store, dirty := newTestHarness(t, gateway)

	state := models.NewUserState()
	state.PendingTrades = []models.PendingTrade{{
		ID:       "t1",
		FundCode: "161725",
		Type:     models.TradeBuy,
		Amount:   1000,
		FeeRate:  0.001,
		Date:     "2026-08-28",
	}}
	seedState(t, store, state)

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, []string{"t1"}, result.ResolvedIDs)
	assert.Equal(t, 0, result.Remaining)

	after := loadState(t, store)
	assert.Empty(t, after.PendingTrades)
	h := after.Holdings["161725"]
	// 1000 * (1 - 0.001) / 2.0 units at NAV 2.0
	assert.InDelta(t, 499.5, h.Share, 1e-9)
	assert.InDelta(t, 2.0, h.Cost, 1e-9)

	assert.Contains(t, dirty.keys, models.KeyHoldings)
	assert.Contains(t, dirty.keys, models.KeyPendingTrades)
}

func TestProcessPendingSettlesSellWithClamp(t *testing.T) {
	gateway := &fakeGateway{values: map[string]*models.NetValue{
		"161725": {Value: 2.0, Date: "2026-08-28"},
	}}
	svc, store, _ := newTestHarness(t, gateway)

	state := models.NewUserState()
	state.Holdings["161725"] = models.Holding{Share: 100, Cost: 1.5}
	state.PendingTrades = []models.PendingTrade{{
		ID:       "t1",
		FundCode: "161725",
		Type:     models.TradeSell,
		Share:    250,
		Date:     "2026-08-28",
	}}
	seedState(t, store, state)

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)

	after := loadState(t, store)
	assert.NotContains(t, after.Holdings, "161725")
}

func TestProcessPendingUnpublishedStaysQueued(t *testing.T) {
	// nil valuation means not yet published, not an error.
	gateway := &fakeGateway{values: map[string]*models.NetValue{}}
	svc, store, dirty := newTestHarness(t, gateway)

	state := models.NewUserState()
	state.PendingTrades = []models.PendingTrade{{
		ID:       "t1",
		FundCode: "161725",
		Type:     models.TradeBuy,
		Amount:   1000,
		Date:     "2026-08-28",
	}}
	seedState(t, store, state)

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 1, result.Remaining)
	assert.Empty(t, dirty.keys)

	after := loadState(t, store)
	require.Len(t, after.PendingTrades, 1)
	assert.Equal(t, "t1", after.PendingTrades[0].ID)
}

func TestProcessPendingFailureDoesNotBlockOthers(t *testing.T) {
	gateway := &fakeGateway{
		values: map[string]*models.NetValue{
			"000002": {Value: 4.0, Date: "2026-08-28"},
		},
		errs: map[string]error{
			"000001": errors.New("gateway timeout"),
		},
	}
	svc, store, _ := newTestHarness(t, gateway)

	state := models.NewUserState()
	state.PendingTrades = []models.PendingTrade{
		{ID: "t1", FundCode: "000001", Type: models.TradeBuy, Amount: 500, Date: "2026-08-28"},
		{ID: "t2", FundCode: "000002", Type: models.TradeBuy, Amount: 400, Date: "2026-08-28"},
	}
	seedState(t, store, state)

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, []string{"t2"}, result.ResolvedIDs)
	assert.Equal(t, 1, result.Remaining)

	after := loadState(t, store)
	require.Len(t, after.PendingTrades, 1)
	assert.Equal(t, "t1", after.PendingTrades[0].ID)
	assert.InDelta(t, 100.0, after.Holdings["000002"].Share, 1e-9)
}

// A buy and a sell queued against the same fund, with the sell settling a
// day later (after-3pm cutoff): first pass resolves only the buy, second
// pass resolves the sell once its NAV appears, holdings reflecting the
// resolution order.
func TestProcessPendingTwoPassBuyThenSell(t *testing.T) {
	gateway := &fakeGateway{byDate: map[string]*models.NetValue{
		"2026-08-27": {Value: 2.0, Date: "2026-08-27"},
	}}
	svc, store, _ := newTestHarness(t, gateway)

	state := models.NewUserState()
	state.PendingTrades = []models.PendingTrade{
		{ID: "b1", FundCode: "161725", Type: models.TradeBuy, Amount: 1000, Date: "2026-08-27"},
		{ID: "s1", FundCode: "161725", Type: models.TradeSell, Share: 200, Date: "2026-08-27", IsAfter3pm: true},
	}
	seedState(t, store, state)

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, result.ResolvedIDs)
	assert.Equal(t, 1, result.Remaining)

	mid := loadState(t, store)
	require.Len(t, mid.PendingTrades, 1)
	assert.Equal(t, "s1", mid.PendingTrades[0].ID)
	assert.InDelta(t, 500.0, mid.Holdings["161725"].Share, 1e-9)
	assert.InDelta(t, 2.0, mid.Holdings["161725"].Cost, 1e-9)

	// NAV for the sell's settlement day publishes before the next pass.
	gateway.byDate["2026-08-28"] = &models.NetValue{Value: 2.5, Date: "2026-08-28"}

	result, err = svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, result.ResolvedIDs)
	assert.Equal(t, 0, result.Remaining)

	after := loadState(t, store)
	assert.Empty(t, after.PendingTrades)
	assert.InDelta(t, 300.0, after.Holdings["161725"].Share, 1e-9)
	assert.InDelta(t, 2.0, after.Holdings["161725"].Cost, 1e-9)
}

func TestProcessPendingHonorsRetryPolicy(t *testing.T) {
	gateway := &fakeGateway{values: map[string]*models.NetValue{
		"161725": {Value: 2.0, Date: "2026-08-28"},
	}}
	logger := common.NewSilentLogger()
	store, err := localdb.NewStore(logger, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := NewService(store, gateway, &dirtyRecorder{}, attemptNone{}, logger)

	state := models.NewUserState()
	state.PendingTrades = []models.PendingTrade{{
		ID:       "t1",
		FundCode: "161725",
		Type:     models.TradeBuy,
		Amount:   1000,
		Date:     "2026-08-28",
	}}
	require.NoError(t, store.SaveUserState(context.Background(), "default", state))

	result, err := svc.ProcessPending(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 1, result.Remaining)
	assert.Zero(t, gateway.calls)
}
