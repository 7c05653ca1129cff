package events

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRepositoryInsertAndSince only runs against a live PostgreSQL
// instance addressed by STUDIOCORE_TEST_DATABASE_URL, matching the
// gating used by pkg/database's own integration test; this module never
// invokes the Go toolchain or a container runtime itself.
func TestRepositoryInsertAndSince(t *testing.T) {
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepository(db)
	ctx := context.Background()

	actor := int64(1)
	e, err := repo.Insert(ctx, Event{
		Type:             TypeJobCompleted,
		SourceEntityType: "job",
		SourceEntityID:   42,
		ActorUserID:      &actor,
		Payload:          map[string]any{"duration_ms": 1200},
	})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	critical, err := repo.IsCriticalType(ctx, TypeJobCompleted)
	require.NoError(t, err)
	assert.False(t, critical)

	critical, err = repo.IsCriticalType(ctx, TypeSystemAlert)
	require.NoError(t, err)
	assert.True(t, critical)

	since, err := repo.Since(ctx, 0, "job", 42, 10)
	require.NoError(t, err)
	require.NotEmpty(t, since)
	assert.Equal(t, TypeJobCompleted, since[len(since)-1].Type)
}
