package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository persists events and resolves the event_types catalogue.
// One constant per table backs every query so column names are never
// duplicated across statements.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	eventsColumns = "event_type_id, source_entity_type, source_entity_id, actor_user_id, payload, created_at"

	insertEventSQL = `
INSERT INTO events (event_type_id, source_entity_type, source_entity_id, actor_user_id, payload)
SELECT id, $2, $3, $4, $5 FROM event_types WHERE name = $1
RETURNING id, created_at`

	selectEventTypeIDSQL = `SELECT id, is_critical FROM event_types WHERE name = $1`

	selectEventsSinceSQL = `
SELECT events.id, event_types.name, source_entity_type, source_entity_id, actor_user_id, payload, created_at
FROM events JOIN event_types ON event_types.id = events.event_type_id
WHERE events.id > $1 AND source_entity_type = $2 AND source_entity_id = $3
ORDER BY events.id ASC
LIMIT $4`

	deleteEventsOlderThanSQL = `DELETE FROM events WHERE created_at < $1`
)

// Insert writes an event row and returns it with ID and CreatedAt
// populated. event_type_id is resolved by name so callers never need to
// carry the lookup table's surrogate key.
func (r *Repository) Insert(ctx context.Context, e Event) (Event, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	row := r.db.QueryRowContext(ctx, insertEventSQL,
		string(e.Type), e.SourceEntityType, e.SourceEntityID, e.ActorUserID, payload)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// IsCriticalType reports whether the event_types catalogue flags a
// type as critical, looked up live so new types don't require a code
// change to participate in DND-bypass routing.
func (r *Repository) IsCriticalType(ctx context.Context, t Type) (bool, error) {
	var id int16
	var critical bool
	err := r.db.QueryRowContext(ctx, selectEventTypeIDSQL, string(t)).Scan(&id, &critical)
	if err != nil {
		return false, fmt.Errorf("lookup event type %q: %w", t, err)
	}
	return critical, nil
}

// Since returns events for a source entity with id greater than
// afterID, oldest first, capped at limit. Used for reconnect catchup by
// the client WebSocket hub.
func (r *Repository) Since(ctx context.Context, afterID int64, sourceEntityType string, sourceEntityID int64, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, selectEventsSinceSQL, afterID, sourceEntityType, sourceEntityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events since %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.SourceEntityType, &e.SourceEntityID, &e.ActorUserID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes event rows older than cutoff and returns the
// number removed. Downstream rows in notifications/webhook_deliveries
// that reference a purged event cascade or null out per their own
// foreign key definitions.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteEventsOlderThanSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
