package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundwatch/internal/models"
)

// Subscribe opens a live query on the user's sync row and streams change
// events until ctx is cancelled. The returned channel is closed when the
// subscription ends.
func (s *Store) Subscribe(ctx context.Context, userID string) (<-chan models.SyncEvent, error) {
	sql := fmt.Sprintf("LIVE SELECT * FROM %s WHERE user_id = $user_id", syncTable)
	res, err := surrealdb.Query[surrealmodels.UUID](ctx, s.db, sql, map[string]any{
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start live query: %w", err)
	}
	if res == nil || len(*res) == 0 {
		return nil, fmt.Errorf("live query returned no id")
	}
	liveID := (*res)[0].Result

	notifications, err := s.db.LiveNotifications(liveID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to attach live notifications: %w", err)
	}

	events := make(chan models.SyncEvent, 8)
	go func() {
		defer close(events)
		defer func() {
			if err := surrealdb.Kill(context.Background(), s.db, liveID.String()); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to kill live query")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case notification, ok := <-notifications:
				if !ok {
					return
				}
				event, err := notificationToEvent(notification.Action, notification.Result)
				if err != nil {
					s.logger.Warn().Err(err).Msg("Dropping malformed sync notification")
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	s.logger.Info().Str("user_id", userID).Msg("Subscribed to remote sync changes")
	return events, nil
}

func notificationToEvent(action any, result any) (models.SyncEvent, error) {
	var event models.SyncEvent
	name := strings.ToUpper(fmt.Sprintf("%v", action))
	switch name {
	case "CREATE":
		event.Action = models.SyncEventCreate
	case "UPDATE":
		event.Action = models.SyncEventUpdate
	case "DELETE":
		event.Action = models.SyncEventDelete
	default:
		return event, fmt.Errorf("unknown live action %q", name)
	}

	row, err := resultToRow(result)
	if err != nil {
		return event, err
	}
	doc, err := rowToDocument(row)
	if err != nil {
		return event, err
	}
	event.Document = *doc
	return event, nil
}

// resultToRow normalizes the CBOR-decoded notification payload into a
// syncRow. Map keys may decode as interface{} depending on transport.
func resultToRow(result any) (syncRow, error) {
	normalized := normalizeValue(result)
	blob, err := json.Marshal(normalized)
	if err != nil {
		return syncRow{}, fmt.Errorf("failed to encode notification payload: %w", err)
	}
	var row syncRow
	if err := json.Unmarshal(blob, &row); err != nil {
		return syncRow{}, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return row, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(inner)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
