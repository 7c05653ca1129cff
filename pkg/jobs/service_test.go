package jobs

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocore/control-plane/pkg/events"
)

// testDB returns a live database connection gated by
// STUDIOCORE_TEST_DATABASE_URL, matching pkg/database and pkg/events —
// this module never invokes the Go toolchain itself.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *Repository) {
	db := testDB(t)
	repo := NewRepository(db)
	evt := events.NewService(events.NewBus(), events.NewRepository(db))
	return NewService(repo, evt), repo
}

func TestSubmitAndGetRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Submit(ctx, SubmitInput{UserID: 1, Kind: "render.image", Priority: PriorityNormal})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, j.Status)

	got, err := svc.Get(ctx, Actor{UserID: 1}, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}

func TestGetForbidsNonOwnerNonAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Submit(ctx, SubmitInput{UserID: 1, Kind: "render.image"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, Actor{UserID: 2}, j.ID)
	assert.Error(t, err)
}

func TestCancelFromPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Submit(ctx, SubmitInput{UserID: 1, Kind: "render.image"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, Actor{UserID: 1}, j.ID, "user requested cancellation")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestRetryRequiresFailedSource(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Submit(ctx, SubmitInput{UserID: 1, Kind: "render.image"})
	require.NoError(t, err)

	_, err = svc.Retry(ctx, Actor{UserID: 1}, j.ID)
	assert.Error(t, err)
}
