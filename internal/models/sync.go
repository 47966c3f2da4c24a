package models

import (
	"encoding/json"
	"time"
)

// SyncDocument is the remote config store row for one user: a single JSON
// blob of the full tracked state plus the server-side update timestamp.
type SyncDocument struct {
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Empty reports whether the document carries no usable state.
func (d *SyncDocument) Empty() bool {
	return d == nil || len(d.Data) == 0 || string(d.Data) == "null" || string(d.Data) == "{}"
}

// SyncEventAction identifies the remote change kind.
type SyncEventAction string

const (
	SyncEventCreate SyncEventAction = "CREATE"
	SyncEventUpdate SyncEventAction = "UPDATE"
	SyncEventDelete SyncEventAction = "DELETE"
)

// SyncEvent is one change notification from the remote store's
// subscription, scoped to the subscribing user's own row.
type SyncEvent struct {
	Action   SyncEventAction
	Document SyncDocument
}

// ConflictChoice is the user's resolution of a login conflict.
type ConflictChoice string

const (
	KeepLocal  ConflictChoice = "keep_local"  // push local state, overwriting remote
	KeepRemote ConflictChoice = "keep_remote" // apply remote state, overwriting local
)

// SyncConflict is surfaced when login finds a remote snapshot that differs
// from local state by canonical comparison. It is a deliberate pause in
// the protocol, not an error: no merge happens until the user chooses.
type SyncConflict struct {
	LocalUpdatedAt  time.Time `json:"localUpdatedAt"`
	RemoteUpdatedAt time.Time `json:"remoteUpdatedAt"`
	RemoteFundCount int       `json:"remoteFundCount"`
	LocalFundCount  int       `json:"localFundCount"`
}

// SyncStatus reports the coordinator's observable state.
type SyncStatus struct {
	State         string    `json:"state"` // disabled, idle, pending_push, pushing, applying_remote, conflict
	DirtyKeys     []string  `json:"dirtyKeys,omitempty"`
	LastPushedAt  time.Time `json:"lastPushedAt,omitempty"`
	LastAppliedAt time.Time `json:"lastAppliedAt,omitempty"`
}
