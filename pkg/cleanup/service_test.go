package cleanup

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

	"github.com/studiocore/control-plane/pkg/auth"
	"github.com/studiocore/control-plane/pkg/config"
	"github.com/studiocore/control-plane/pkg/events"
	"github.com/studiocore/control-plane/pkg/renderbridge"
)

// TestServiceRunAll only runs against a live PostgreSQL instance
// addressed by STUDIOCORE_TEST_DATABASE_URL, matching the gating used
// throughout this module; this module never invokes the Go toolchain
// or a container runtime itself.
func TestServiceRunAll(t *testing.T) {
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	userID := fixtureUser(t, ctx, db)

	authRepo := auth.NewRepository(db)
	eventsRepo := events.NewRepository(db)
	executionsRepo := renderbridge.NewRepository(db)

	cfg := &config.RetentionConfig{
		MetricsRetention: time.Hour,
		SweepInterval:    time.Hour,
	}
	svc := NewService(cfg, authRepo, eventsRepo, executionsRepo)

	oldHash := fixtureHash(t)
	session, err := authRepo.InsertSession(ctx, userID, oldHash, time.Now().Add(-2*time.Hour), "test-agent", "127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, authRepo.RevokeSession(ctx, session.ID))
	backdateSession(t, ctx, db, session.ID, time.Now().Add(-2*time.Hour))

	svc.runAll(ctx)

	_, err = authRepo.SessionByRefreshHash(ctx, oldHash)
	assert.ErrorIs(t, err, auth.ErrNotFound, "stale revoked session should have been purged")
}

func fixtureUser(t *testing.T, ctx context.Context, db *sql.DB) int64 {
	t.Helper()
	var id int64
	suffix := time.Now().UnixNano()
	err := db.QueryRowContext(ctx, `
INSERT INTO users (username, email, password_hash, role_id)
VALUES ($1, $2, 'x', 2) RETURNING id`,
		fmt.Sprintf("cleanup-test-%d", suffix), fmt.Sprintf("cleanup-test-%d@example.com", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}

func fixtureHash(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("%064d", time.Now().UnixNano())
}

func backdateSession(t *testing.T, ctx context.Context, db *sql.DB, id int64, at time.Time) {
	t.Helper()
	_, err := db.ExecContext(ctx, `UPDATE sessions SET expires_at = $2 WHERE id = $1`, id, at)
	require.NoError(t, err)
}
