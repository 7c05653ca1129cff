package notify

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryNotificationLifecycle(t *testing.T) {
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	userID := fixtureUser(t, ctx, db)
	eventID := fixtureEvent(t, ctx, db, userID)

	repo := NewRepository(db)

	id, isCritical, err := repo.EventTypeMeta(ctx, "job.completed")
	require.NoError(t, err)
	assert.False(t, isCritical)
	assert.NotZero(t, id)

	_, _, err = repo.EventTypeMeta(ctx, "no.such.type")
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, found, err := repo.Preference(ctx, userID, "job.completed")
	require.NoError(t, err)
	assert.False(t, found)

	settings, err := repo.Settings(ctx, userID)
	require.NoError(t, err)
	assert.False(t, settings.DNDEnabled)
	assert.False(t, settings.InDNDWindow(time.Now()))

	notifID, err := repo.InsertNotification(ctx, eventID, userID, "digest")
	require.NoError(t, err)
	assert.NotZero(t, notifID)

	pending, err := repo.DigestPending(ctx)
	require.NoError(t, err)
	found = false
	for _, row := range pending {
		if row.ID == notifID {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, repo.MarkDigestDelivered(ctx, []int64{notifID}))

	pending, err = repo.DigestPending(ctx)
	require.NoError(t, err)
	for _, row := range pending {
		assert.NotEqual(t, notifID, row.ID)
	}
}

func fixtureUser(t *testing.T, ctx context.Context, db *sql.DB) int64 {
	t.Helper()
	var id int64
	suffix := time.Now().UnixNano()
	err := db.QueryRowContext(ctx, `
INSERT INTO users (username, email, password_hash, role_id)
VALUES ($1, $2, 'x', 2) RETURNING id`,
		fmt.Sprintf("notify-test-%d", suffix), fmt.Sprintf("notify-test-%d@example.com", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}

func fixtureEvent(t *testing.T, ctx context.Context, db *sql.DB, actorUserID int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowContext(ctx, `
INSERT INTO events (event_type_id, source_entity_type, source_entity_id, actor_user_id, payload)
SELECT id, 'job', 1, $1, '{}'::jsonb FROM event_types WHERE name = 'job.completed'
RETURNING id`, actorUserID).Scan(&id)
	require.NoError(t, err)
	return id
}
