package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUnknownEventType is returned when an event's type has no row in
// the event_types catalogue — spec §4.4 step 1 says such events are
// skipped rather than treated as an error.
var ErrUnknownEventType = errors.New("unknown event type")

// Repository hand-writes every SQL statement against notifications,
// notification_preferences, notification_settings, event_types, and
// users.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	selectEventTypeSQL = `SELECT id, is_critical FROM event_types WHERE name = $1`

	selectPreferenceSQL = `
SELECT np.enabled, np.channels, np.scope
FROM notification_preferences np
JOIN event_types et ON et.id = np.event_type_id
WHERE np.user_id = $1 AND et.name = $2`

	selectSettingsSQL = `
SELECT dnd_enabled, dnd_until, digest_enabled, digest_cadence
FROM notification_settings WHERE user_id = $1`

	insertNotificationSQL = `
INSERT INTO notifications (event_id, user_id, channel)
VALUES ($1, $2, $3) RETURNING id`

	selectActiveAdminsSQL = `
SELECT u.id FROM users u
JOIN roles r ON r.id = u.role_id
WHERE r.name = 'admin' AND u.is_active AND u.deleted_at IS NULL`

	selectDigestPendingSQL = `
SELECT id, event_id, user_id FROM notifications
WHERE channel = 'digest' AND delivered_at IS NULL
ORDER BY user_id, created_at`

	markDigestDeliveredSQL = `UPDATE notifications SET delivered_at = now() WHERE id = ANY($1)`
)

// EventTypeMeta looks up an event type's surrogate id and is_critical
// flag. Returns ErrUnknownEventType for a type with no catalogue row.
func (r *Repository) EventTypeMeta(ctx context.Context, name string) (id int64, isCritical bool, err error) {
	err = r.db.QueryRowContext(ctx, selectEventTypeSQL, name).Scan(&id, &isCritical)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrUnknownEventType
	}
	if err != nil {
		return 0, false, fmt.Errorf("look up event type %s: %w", name, err)
	}
	return id, isCritical, nil
}

// Preference fetches a user's opt-in row for an event type by name. A
// missing row is reported via found=false; the caller applies the
// enabled-by-default fallback.
func (r *Repository) Preference(ctx context.Context, userID int64, eventTypeName string) (pref Preference, found bool, err error) {
	var channels []string
	err = r.db.QueryRowContext(ctx, selectPreferenceSQL, userID, eventTypeName).Scan(&pref.Enabled, &channels, &pref.Scope)
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, false, nil
	}
	if err != nil {
		return Preference{}, false, fmt.Errorf("look up preference for user %d type %s: %w", userID, eventTypeName, err)
	}
	pref.Channels = channels
	return pref, true, nil
}

// Settings fetches a user's global DND/digest posture. A missing row
// means DND and digest are both off (the column defaults).
func (r *Repository) Settings(ctx context.Context, userID int64) (Settings, error) {
	var s Settings
	var cadence sql.NullString
	err := r.db.QueryRowContext(ctx, selectSettingsSQL, userID).Scan(&s.DNDEnabled, &s.DNDUntil, &s.DigestEnabled, &cadence)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings for user %d: %w", userID, err)
	}
	s.DigestCadence = cadence.String
	return s, nil
}

// InsertNotification writes a materialised delivery row and returns
// its id.
func (r *Repository) InsertNotification(ctx context.Context, eventID, userID int64, channel string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, insertNotificationSQL, eventID, userID, channel).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification for user %d: %w", userID, err)
	}
	return id, nil
}

// ActiveAdminUserIDs returns every non-deleted, active admin user —
// the recipient set for system.* events.
func (r *Repository) ActiveAdminUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, selectActiveAdminsSQL)
	if err != nil {
		return nil, fmt.Errorf("query active admins: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DigestRow is one pending digest-tagged notification awaiting the
// digest scheduler's consolidated delivery.
type DigestRow struct {
	ID      int64
	EventID int64
	UserID  int64
}

// DigestPending returns every undelivered digest-tagged notification,
// ordered by user so the caller can group consecutively.
func (r *Repository) DigestPending(ctx context.Context) ([]DigestRow, error) {
	rows, err := r.db.QueryContext(ctx, selectDigestPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("query pending digest notifications: %w", err)
	}
	defer rows.Close()

	var out []DigestRow
	for rows.Next() {
		var d DigestRow
		if err := rows.Scan(&d.ID, &d.EventID, &d.UserID); err != nil {
			return nil, fmt.Errorf("scan digest row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDigestDelivered stamps delivered_at on a batch of digest rows
// once the scheduler has rendered and sent their consolidated summary.
func (r *Repository) MarkDigestDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, markDigestDeliveredSQL, ids)
	if err != nil {
		return fmt.Errorf("mark digest batch delivered: %w", err)
	}
	return nil
}
