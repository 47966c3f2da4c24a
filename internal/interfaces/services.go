package interfaces

import (
	"context"
	"errors"

	"github.com/bobmcallan/fundwatch/internal/models"
)

// ErrRefreshInProgress is returned when a refresh cycle is already
// running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// DirtyMarker records that a tracked state key changed locally and should
// be pushed on the next sync window. Implemented by the sync coordinator;
// a no-op implementation is used when sync is disabled.
type DirtyMarker interface {
	MarkDirty(key string)
}

// LedgerService maintains the holdings map and the pending trade queue.
type LedgerService interface {
	// Buy blends shareDelta units at unitPrice into the holding.
	Buy(ctx context.Context, userID, code string, shareDelta, unitPrice float64) (models.Holding, error)

	// Sell reduces the holding, clamping at zero (the clamp is logged,
	// never silent). Returns the updated holding.
	Sell(ctx context.Context, userID, code string, shareDelta float64) (models.Holding, error)

	// SetHolding manually edits a position. A zero share and cost deletes
	// the entry.
	SetHolding(ctx context.Context, userID, code string, share, cost float64) error

	// EnqueuePending queues a trade whose settlement NAV is not yet
	// available, assigning it a fresh id and timestamp.
	EnqueuePending(ctx context.Context, userID string, trade models.PendingTrade) (models.PendingTrade, error)

	// RevokePending removes a queued trade by id. No-op when absent.
	RevokePending(ctx context.Context, userID, id string) error
}

// SettlementService resolves queued trades against the valuation gateway.
type SettlementService interface {
	// ProcessPending runs one settlement pass: every queued trade is
	// tried once, resolved trades are applied to the ledger atomically,
	// unresolved trades stay queued for the next pass.
	ProcessPending(ctx context.Context, userID string) (*models.SettlementResult, error)
}

// RetryPolicy decides whether a pending trade is attempted this pass.
// The default policy retries forever; bounded or backoff policies can be
// substituted without touching call sites.
type RetryPolicy interface {
	ShouldAttempt(trade models.PendingTrade) bool
}

// ItemFailure is a per-item error from a batch operation, surfaced in
// aggregate rather than aborting the batch.
type ItemFailure struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// RefreshReport summarizes one refresh cycle.
type RefreshReport struct {
	Refreshed  int                      `json:"refreshed"`
	Failures   []ItemFailure            `json:"failures,omitempty"`
	Settlement *models.SettlementResult `json:"settlement,omitempty"`
}

// RefreshService drives the periodic valuation refresh cycle.
type RefreshService interface {
	// RefreshAll fetches every tracked fund sequentially, then runs a
	// settlement pass. Only one cycle runs at a time; a second call while
	// busy returns ErrRefreshInProgress.
	RefreshAll(ctx context.Context, userID string) (*RefreshReport, error)

	// AddFunds adds codes to the tracked list, fetching each snapshot.
	// Per-item failures are collected, not fatal.
	AddFunds(ctx context.Context, userID string, codes []string) ([]models.FundSnapshot, []ItemFailure, error)

	// RemoveFund stops tracking a code.
	RemoveFund(ctx context.Context, userID, code string) error
}

// SyncCoordinator mirrors local state to the remote config store.
type SyncCoordinator interface {
	DirtyMarker

	// Login fetches the remote snapshot once and decides how to proceed:
	// an empty remote invites a push, a differing remote surfaces a
	// conflict for explicit resolution, an identical remote starts the
	// subscription silently.
	Login(ctx context.Context) (*models.SyncConflict, error)

	// ResolveConflict applies the user's choice after Login reported a
	// conflict.
	ResolveConflict(ctx context.Context, choice models.ConflictChoice) error

	// PushLocal force-pushes the full local snapshot.
	PushLocal(ctx context.Context) error

	// Logout disables sync: the debounce timer and subscription stop and
	// dirty marking becomes a no-op until the next Login.
	Logout()

	// Flush pushes any dirty keys immediately, bypassing the debounce.
	Flush(ctx context.Context) error

	// Status reports the coordinator's current state machine position.
	Status() models.SyncStatus

	// Close stops timers and the subscription.
	Close() error
}
