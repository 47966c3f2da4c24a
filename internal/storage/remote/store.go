// Package remote implements RemoteConfigStore using SurrealDB.
// The cloud side is a dumb document store: one row per user identity
// holding the full state blob and an update timestamp, with a live-query
// change feed. It holds no authority over conflict resolution.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/models"
)

const syncTable = "sync_state"

// Store implements interfaces.RemoteConfigStore using SurrealDB.
type Store struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// syncRow is the persisted row shape. Data is stored as a document (not a
// string) so the server can merge individual keys.
type syncRow struct {
	UserID    string         `json:"user_id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewStore connects to SurrealDB and prepares the sync_state table.
func NewStore(logger *common.Logger, cfg common.SyncConfig) (*Store, error) {
	ctx := context.Background()

	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// SurrealDB v3 errors on querying tables that were never defined.
	sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", syncTable)
	if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
		return nil, fmt.Errorf("failed to define table %s: %w", syncTable, err)
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("Remote config store initialized")

	return &Store{db: db, logger: logger}, nil
}

// Fetch reads the user's sync document.
func (s *Store) Fetch(ctx context.Context, userID string) (*models.SyncDocument, error) {
	row, err := surrealdb.Select[syncRow](ctx, s.db, surrealmodels.NewRecordID(syncTable, userID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("sync document for '%s': %w", userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch sync document: %w", err)
	}
	if row == nil || row.UserID == "" {
		return nil, fmt.Errorf("sync document for '%s': %w", userID, models.ErrNotFound)
	}
	return rowToDocument(*row)
}

// Upsert overwrites the full document. This is the degrade-to-safe path
// when a partial merge is unsupported or failing, so it retries.
func (s *Store) Upsert(ctx context.Context, userID string, data []byte) error {
	doc, err := decodeDataBlob(data)
	if err != nil {
		return err
	}

	sql := "UPSERT $rid CONTENT { user_id: $user_id, data: $data, updated_at: time::now() }"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID(syncTable, userID),
		"user_id": userID,
		"data":    doc,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]syncRow](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to upsert sync document after retries: %w", lastErr)
}

// MergeKeys server-side merges only the given keys into the data
// document, creating the row if it does not exist.
func (s *Store) MergeKeys(ctx context.Context, userID string, partial map[string]json.RawMessage) error {
	if len(partial) == 0 {
		return nil
	}

	merged := make(map[string]any, len(partial))
	for key, raw := range partial {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid partial value for '%s': %w", key, err)
		}
		merged[key] = v
	}

	sql := "UPSERT $rid MERGE { user_id: $user_id, data: $data, updated_at: time::now() }"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID(syncTable, userID),
		"user_id": userID,
		"data":    merged,
	}

	if _, err := surrealdb.Query[[]syncRow](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to merge sync document: %w", err)
	}
	return nil
}

// Close shuts down the SurrealDB connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close(context.Background())
	}
	return nil
}

func rowToDocument(row syncRow) (*models.SyncDocument, error) {
	blob, err := json.Marshal(row.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync data: %w", err)
	}
	return &models.SyncDocument{
		UserID:    row.UserID,
		Data:      blob,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func decodeDataBlob(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("sync data must be a JSON object: %w", err)
	}
	return doc, nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no record")
}
