package webhook

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

func TestRepositoryDeliveryLifecycle(t *testing.T) {
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	webhookID := fixtureWebhook(t, ctx, db)
	repo := NewRepository(db)

	subs, err := repo.SubscribedTo(ctx, "job.completed")
	require.NoError(t, err)
	assert.NotEmpty(t, subs)

	d, err := repo.InsertDelivery(ctx, webhookID, nil, map[string]any{"hello": "world"}, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)

	due, err := repo.DueDeliveries(ctx, 10)
	require.NoError(t, err)
	assertContainsDelivery(t, due, d.ID)

	statusCode := 500
	require.NoError(t, repo.MarkRetrying(ctx, d.ID, &statusCode, "server error", time.Now().Add(time.Hour)))

	got, err := repo.ByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	require.NoError(t, repo.Reset(ctx, d.ID))
	got, err = repo.ByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)

	require.NoError(t, repo.MarkDelivered(ctx, d.ID, 200))
	got, err = repo.ByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)

	_, err = repo.ByID(ctx, -1)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func assertContainsDelivery(t *testing.T, due []DueWithTarget, id int64) {
	t.Helper()
	for _, d := range due {
		if d.ID == id {
			return
		}
	}
	t.Fatalf("delivery %d not found among %d due rows", id, len(due))
}

func fixtureWebhook(t *testing.T, ctx context.Context, db *sql.DB) int64 {
	t.Helper()
	var id int64
	suffix := time.Now().UnixNano()
	err := db.QueryRowContext(ctx, `
INSERT INTO webhooks (name, url, secret, event_types)
VALUES ($1, 'https://example.test/hook', 'shh', ARRAY['job.completed'])
RETURNING id`, fmt.Sprintf("webhook-test-%d", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}
