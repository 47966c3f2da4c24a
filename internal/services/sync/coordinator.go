// Package sync mirrors local state to the remote config store. Local
// writes mark their key dirty; a debounced push window batches them into
// one partial merge. Inbound remote changes are compared canonically so
// echoes of our own writes never loop back into local state.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// Coordinator state machine positions.
const (
	StateDisabled       = "disabled"
	StateIdle           = "idle"
	StatePendingPush    = "pending_push"
	StatePushing        = "pushing"
	StateApplyingRemote = "applying_remote"
	StateConflict       = "conflict"
)

// ErrNoConflict is returned by ResolveConflict when no conflict is open.
var ErrNoConflict = errors.New("no sync conflict to resolve")

// NoopMarker satisfies interfaces.DirtyMarker when sync is disabled.
type NoopMarker struct{}

func (NoopMarker) MarkDirty(string) {}

// Coordinator implements interfaces.SyncCoordinator.
type Coordinator struct {
	store    interfaces.LocalStateStore
	remote   interfaces.RemoteConfigStore
	logger   *common.Logger
	clock    Clock
	userID   string
	debounce time.Duration

	mu            stdsync.Mutex
	state         string
	dirty         map[string]struct{}
	timer         Timer
	suppress      bool
	pendingRemote *models.SyncDocument
	lastPushedAt  time.Time
	lastAppliedAt time.Time
	subCancel     context.CancelFunc
	onApplied     func()
	closed        bool
}

// NewCoordinator creates the sync coordinator. A nil clock defaults to
// the real one; sync starts disabled until Login succeeds.
func NewCoordinator(store interfaces.LocalStateStore, remote interfaces.RemoteConfigStore, logger *common.Logger, cfg common.SyncConfig, clock Clock) *Coordinator {
	if clock == nil {
		clock = NewRealClock()
	}
	userID := cfg.UserID
	if userID == "" {
		userID = "default"
	}
	return &Coordinator{
		store:    store,
		remote:   remote,
		logger:   logger,
		clock:    clock,
		userID:   userID,
		debounce: cfg.GetDebounce(),
		state:    StateDisabled,
		dirty:    map[string]struct{}{},
	}
}

// SetOnApplied registers a callback invoked after a remote payload has
// been applied locally, typically to refresh valuations for codes the
// payload introduced.
func (c *Coordinator) SetOnApplied(f func()) {
	c.mu.Lock()
	c.onApplied = f
	c.mu.Unlock()
}

// Logout disables sync until the next Login: the debounce timer and the
// subscription stop and the dirty set is cleared.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	cancelSub := c.subCancel
	c.subCancel = nil
	c.dirty = map[string]struct{}{}
	c.pendingRemote = nil
	c.state = StateDisabled
	c.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	c.logger.Info().Str("user_id", c.userID).Msg("Sync logged out")
}

// MarkDirty records a changed key and arms the debounce window. Calls made
// while a remote payload is being applied are suppressed so inbound state
// never echoes straight back out.
func (c *Coordinator) MarkDirty(key string) {
	if !models.ValidStateKey(key) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.suppress || c.state == StateDisabled || c.state == StateConflict {
		return
	}

	c.dirty[key] = struct{}{}
	if c.state == StateIdle {
		c.state = StatePendingPush
	}
	if c.timer == nil {
		c.timer = c.clock.AfterFunc(c.debounce, c.onDebounce)
	} else {
		c.timer.Reset(c.debounce)
	}
}

func (c *Coordinator) onDebounce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Debounced sync push failed, keys stay dirty")
	}
}

// Login fetches the remote snapshot once and decides how to proceed: an
// empty remote invites a push, a differing remote surfaces a conflict for
// explicit resolution, an identical remote starts the subscription
// silently.
func (c *Coordinator) Login(ctx context.Context) (*models.SyncConflict, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("sync coordinator is closed")
	}
	c.mu.Unlock()

	doc, err := c.remote.Fetch(ctx, c.userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to fetch remote state: %w", err)
	}

	if doc.Empty() {
		if err := c.PushLocal(ctx); err != nil {
			return nil, err
		}
		c.enterIdleAndSubscribe(ctx)
		c.logger.Info().Str("user_id", c.userID).Msg("Remote empty, local state pushed")
		return nil, nil
	}

	remoteState, err := models.StateFromJSON(doc.Data)
	if err != nil {
		// A blob that fails validation cannot seed a conflict dialog;
		// local wins and the remote copy is rewritten.
		c.logger.Warn().Err(err).Msg("Remote state is malformed, overwriting with local")
		if err := c.PushLocal(ctx); err != nil {
			return nil, err
		}
		c.enterIdleAndSubscribe(ctx)
		return nil, nil
	}

	local, err := c.store.LoadUserState(ctx, c.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local state: %w", err)
	}

	if models.CanonicalEqual(local, remoteState) {
		c.enterIdleAndSubscribe(ctx)
		c.logger.Info().Str("user_id", c.userID).Msg("Remote state matches local, sync active")
		return nil, nil
	}

	localAt, _ := c.store.LocalUpdatedAt(ctx, c.userID)
	conflict := &models.SyncConflict{
		LocalUpdatedAt:  localAt,
		RemoteUpdatedAt: doc.UpdatedAt,
		LocalFundCount:  len(local.FundCodes()),
		RemoteFundCount: len(remoteState.FundCodes()),
	}

	c.mu.Lock()
	c.state = StateConflict
	c.pendingRemote = doc
	c.mu.Unlock()

	c.logger.Info().
		Str("user_id", c.userID).
		Int("local_funds", conflict.LocalFundCount).
		Int("remote_funds", conflict.RemoteFundCount).
		Msg("Sync conflict, waiting for resolution")
	return conflict, nil
}

// ResolveConflict applies the user's choice after Login reported a
// conflict.
func (c *Coordinator) ResolveConflict(ctx context.Context, choice models.ConflictChoice) error {
	c.mu.Lock()
	if c.state != StateConflict || c.pendingRemote == nil {
		c.mu.Unlock()
		return ErrNoConflict
	}
	doc := c.pendingRemote
	c.mu.Unlock()

	switch choice {
	case models.KeepLocal:
		if err := c.PushLocal(ctx); err != nil {
			return err
		}
	case models.KeepRemote:
		if err := c.applyRemote(ctx, doc); err != nil {
			return err
		}
		c.notifyApplied()
	default:
		return fmt.Errorf("unknown conflict choice '%s'", choice)
	}

	c.mu.Lock()
	c.pendingRemote = nil
	c.mu.Unlock()
	c.enterIdleAndSubscribe(ctx)
	c.logger.Info().Str("choice", string(choice)).Msg("Sync conflict resolved")
	return nil
}

// PushLocal force-pushes the full local snapshot, clearing the dirty set.
func (c *Coordinator) PushLocal(ctx context.Context) error {
	state, err := c.store.LoadUserState(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to load local state: %w", err)
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode local state: %w", err)
	}
	if err := c.remote.Upsert(ctx, c.userID, blob); err != nil {
		return fmt.Errorf("failed to push local state: %w", err)
	}

	c.mu.Lock()
	c.dirty = map[string]struct{}{}
	c.lastPushedAt = c.clock.Now()
	if c.state == StatePendingPush || c.state == StatePushing {
		c.state = StateIdle
	}
	c.mu.Unlock()
	return nil
}

// Flush pushes the currently dirty keys immediately, bypassing the
// debounce. Keys marked while the push is in flight stay dirty for the
// next window.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state == StateDisabled || c.state == StateConflict {
		c.mu.Unlock()
		return nil
	}
	if len(c.dirty) == 0 {
		if c.state == StatePendingPush {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return nil
	}
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.state = StatePushing
	c.mu.Unlock()

	err := c.pushKeys(ctx, keys)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.state == StatePushing {
			c.state = StatePendingPush
		}
		return err
	}
	for _, k := range keys {
		delete(c.dirty, k)
	}
	c.lastPushedAt = c.clock.Now()
	if c.state == StatePushing {
		if len(c.dirty) > 0 {
			c.state = StatePendingPush
		} else {
			c.state = StateIdle
		}
	}
	return nil
}

// pushKeys sends a partial merge of the given keys, degrading to a full
// upsert when the merge fails.
func (c *Coordinator) pushKeys(ctx context.Context, keys []string) error {
	state, err := c.store.LoadUserState(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to load local state: %w", err)
	}

	partial := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		value, err := state.ValueForKey(key)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode '%s': %w", key, err)
		}
		partial[key] = raw
	}

	if err := c.remote.MergeKeys(ctx, c.userID, partial); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("Partial merge failed, falling back to full push")
		blob, merr := json.Marshal(state)
		if merr != nil {
			return fmt.Errorf("failed to encode local state: %w", merr)
		}
		if uerr := c.remote.Upsert(ctx, c.userID, blob); uerr != nil {
			return fmt.Errorf("failed to push local state: %w", uerr)
		}
	}

	c.logger.Debug().Strs("keys", keys).Msg("Dirty keys pushed to remote")
	return nil
}

// Status reports the coordinator's current state machine position.
func (c *Coordinator) Status() models.SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return models.SyncStatus{
		State:         c.state,
		DirtyKeys:     keys,
		LastPushedAt:  c.lastPushedAt,
		LastAppliedAt: c.lastAppliedAt,
	}
}

// Close stops the debounce timer and the subscription after a best-effort
// flush of any dirty keys.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	flushable := c.state == StatePendingPush || (c.state == StateIdle && len(c.dirty) > 0)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if flushable {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Flush(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Final sync flush failed")
		}
		cancel()
	}

	c.mu.Lock()
	c.closed = true
	cancelSub := c.subCancel
	c.subCancel = nil
	c.state = StateDisabled
	c.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	return nil
}

// applyRemote validates the remote blob and replaces local state with it.
// Dirty marking is suppressed for the duration so the apply cannot queue
// itself for a push.
func (c *Coordinator) applyRemote(ctx context.Context, doc *models.SyncDocument) error {
	state, err := models.StateFromJSON(doc.Data)
	if err != nil {
		return fmt.Errorf("remote state rejected: %w", err)
	}

	c.mu.Lock()
	prev := c.state
	c.state = StateApplyingRemote
	c.suppress = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.suppress = false
		if c.state == StateApplyingRemote {
			c.state = prev
		}
		c.lastAppliedAt = c.clock.Now()
		c.mu.Unlock()
	}()

	if err := c.store.SaveUserState(ctx, c.userID, state); err != nil {
		return fmt.Errorf("failed to apply remote state: %w", err)
	}
	c.logger.Info().Str("user_id", c.userID).Msg("Remote state applied locally")
	return nil
}

// notifyApplied runs the post-apply callback, after suppression has been
// lifted so the callback's own writes mark dirty normally.
func (c *Coordinator) notifyApplied() {
	c.mu.Lock()
	applied := c.onApplied
	c.mu.Unlock()
	if applied != nil {
		applied()
	}
}

// enterIdleAndSubscribe transitions to idle and starts the live
// subscription if one is not already running.
func (c *Coordinator) enterIdleAndSubscribe(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDisabled || c.state == StateConflict {
		c.state = StateIdle
	}
	already := c.subCancel != nil
	c.mu.Unlock()
	if already {
		return
	}

	subCtx, cancel := context.WithCancel(context.Background())
	events, err := c.remote.Subscribe(subCtx, c.userID)
	if err != nil {
		cancel()
		c.logger.Warn().Err(err).Msg("Remote subscription unavailable, push-only sync")
		return
	}

	c.mu.Lock()
	c.subCancel = cancel
	c.mu.Unlock()

	go c.consumeEvents(events)
}

func (c *Coordinator) consumeEvents(events <-chan models.SyncEvent) {
	for event := range events {
		c.handleEvent(event)
	}
	c.mu.Lock()
	c.subCancel = nil
	c.mu.Unlock()
	c.logger.Info().Msg("Remote subscription closed")
}

func (c *Coordinator) handleEvent(event models.SyncEvent) {
	if event.Action == models.SyncEventDelete {
		c.logger.Warn().Str("user_id", c.userID).Msg("Remote sync row deleted, keeping local state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remoteState, err := models.StateFromJSON(event.Document.Data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Ignoring malformed remote change")
		return
	}
	local, err := c.store.LoadUserState(ctx, c.userID)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to load local state for remote change")
		return
	}
	if models.CanonicalEqual(local, remoteState) {
		// Echo of our own push.
		return
	}

	if err := c.applyRemote(ctx, &event.Document); err != nil {
		c.logger.Error().Err(err).Msg("Failed to apply remote change")
		return
	}
	c.notifyApplied()
}
