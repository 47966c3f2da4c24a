// Package interfaces defines service contracts for Fundwatch
package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bobmcallan/fundwatch/internal/models"
)

// LocalStateStore is the persisted local state: one JSON value per tracked
// key per user, plus a local "last updated" stamp. It is the single source
// of truth for the active session.
type LocalStateStore interface {
	// GetState returns the raw JSON value for a tracked key.
	// Returns ErrNotFound when the key was never written.
	GetState(ctx context.Context, userID, key string) ([]byte, error)

	// PutState stores a tracked key's JSON value and stamps LocalUpdatedAt.
	PutState(ctx context.Context, userID, key string, value []byte) error

	// DeleteState removes a tracked key. No-op when absent.
	DeleteState(ctx context.Context, userID, key string) error

	// LoadUserState assembles the full state from all tracked keys,
	// applying defaults for missing keys and rejecting malformed values.
	LoadUserState(ctx context.Context, userID string) (*models.UserState, error)

	// SaveUserState writes every tracked key from the state.
	SaveUserState(ctx context.Context, userID string, state *models.UserState) error

	// LocalUpdatedAt returns the timestamp of the last local write.
	LocalUpdatedAt(ctx context.Context, userID string) (time.Time, error)

	Close() error
}

// RemoteConfigStore mirrors one state document per user identity in the
// cloud backend. The server holds no authority over conflicts; it is a
// dumb document store with a change feed.
type RemoteConfigStore interface {
	// Fetch reads the user's document. Returns ErrNotFound when the user
	// has never synced.
	Fetch(ctx context.Context, userID string) (*models.SyncDocument, error)

	// Upsert overwrites the full document (the degrade-to-safe path).
	Upsert(ctx context.Context, userID string, data []byte) error

	// MergeKeys server-side merges only the given keys into the document.
	MergeKeys(ctx context.Context, userID string, partial map[string]json.RawMessage) error

	// Subscribe streams change events for the user's own row until ctx is
	// cancelled. The returned channel closes when the subscription ends.
	Subscribe(ctx context.Context, userID string) (<-chan models.SyncEvent, error)

	Close() error
}
