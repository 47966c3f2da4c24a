// Package localdb implements LocalStateStore using BadgerHold.
// It stores one JSON blob per tracked state key per user, and is the
// single source of truth for the active session.
package localdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// StateRecord is one persisted state entry.
type StateRecord struct {
	UserID    string
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// keySep is the composite key separator. Using a null byte prevents
// collisions when userID or key contain ":" characters.
const keySep = "\x00"

// updatedAtKey is the reserved key holding the local last-write stamp.
// It is not a tracked state key and never syncs.
const updatedAtKey = "localUpdatedAt"

// Store implements interfaces.LocalStateStore using BadgerHold.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// NewStore creates a new LocalStateStore backed by BadgerHold.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create localdb path %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open localdb at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("LocalDB opened")
	return &Store{db: db, logger: logger}, nil
}

func compositeKey(userID, key string) string {
	return userID + keySep + key
}

func (s *Store) GetState(_ context.Context, userID, key string) ([]byte, error) {
	var rec StateRecord
	if err := s.db.Get(compositeKey(userID, key), &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("state key '%s' for user '%s': %w", key, userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get state key '%s': %w", key, err)
	}
	return rec.Value, nil
}

func (s *Store) PutState(ctx context.Context, userID, key string, value []byte) error {
	now := time.Now()
	rec := StateRecord{UserID: userID, Key: key, Value: value, UpdatedAt: now}
	if err := s.db.Upsert(compositeKey(userID, key), &rec); err != nil {
		return fmt.Errorf("failed to put state key '%s': %w", key, err)
	}
	if key != updatedAtKey {
		s.stampUpdatedAt(userID, now)
	}
	return nil
}

func (s *Store) DeleteState(_ context.Context, userID, key string) error {
	if err := s.db.Delete(compositeKey(userID, key), StateRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete state key '%s': %w", key, err)
	}
	return nil
}

// LoadUserState assembles the full state from all tracked keys. Missing
// keys fall back to defaults; malformed stored values are rejected rather
// than silently defaulted.
func (s *Store) LoadUserState(ctx context.Context, userID string) (*models.UserState, error) {
	state := models.NewUserState()
	for _, key := range models.TrackedKeys {
		raw, err := s.GetState(ctx, userID, key)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if err := state.DecodeStateValue(key, raw); err != nil {
			return nil, fmt.Errorf("corrupt local state: %w", err)
		}
	}
	return state, nil
}

// SaveUserState writes every tracked key from the state.
func (s *Store) SaveUserState(ctx context.Context, userID string, state *models.UserState) error {
	for _, key := range models.TrackedKeys {
		value, err := state.ValueForKey(key)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode state key '%s': %w", key, err)
		}
		if err := s.PutState(ctx, userID, key, raw); err != nil {
			return err
		}
	}
	return nil
}

// LocalUpdatedAt returns the timestamp of the last local state write, or
// the zero time when nothing was ever written.
func (s *Store) LocalUpdatedAt(_ context.Context, userID string) (time.Time, error) {
	var rec StateRecord
	if err := s.db.Get(compositeKey(userID, updatedAtKey), &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get local updated stamp: %w", err)
	}
	return rec.UpdatedAt, nil
}

func (s *Store) stampUpdatedAt(userID string, now time.Time) {
	rec := StateRecord{UserID: userID, Key: updatedAtKey, UpdatedAt: now}
	if err := s.db.Upsert(compositeKey(userID, updatedAtKey), &rec); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stamp local updated time")
	}
}

// Close shuts down the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
