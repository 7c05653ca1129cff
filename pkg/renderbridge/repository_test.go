package renderbridge

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

	"github.com/studiocore/control-plane/pkg/jobs"
)

// TestRepositoryExecutionLifecycle only runs against a live PostgreSQL
// instance addressed by STUDIOCORE_TEST_DATABASE_URL, matching the
// gating used throughout this module; this module never invokes the Go
// toolchain or a container runtime itself.
func TestRepositoryExecutionLifecycle(t *testing.T) {
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	userID := fixtureUser(t, ctx, db)
	workerID := fixtureWorker(t, ctx, db)

	jobRepo := jobs.NewRepository(db)
	job, err := jobRepo.Submit(ctx, jobs.SubmitInput{UserID: userID, Kind: "render.image"})
	require.NoError(t, err)

	repo := NewRepository(db)

	workers, err := repo.RegisteredWorkers(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, workers)

	exec, err := repo.InsertExecution(ctx, job.ID, workerID, "prompt-123")
	require.NoError(t, err)
	assert.Equal(t, "running", exec.Status)

	got, err := repo.ByPrompt(ctx, workerID, "prompt-123")
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)

	node := "ksampler"
	require.NoError(t, repo.SetCurrentNode(ctx, exec.ID, &node))
	require.NoError(t, repo.MergeOutput(ctx, exec.ID, node, map[string]any{"images": []string{"out.png"}}))
	require.NoError(t, repo.SetStatus(ctx, exec.ID, "completed"))

	byJob, err := repo.ExecutionByJob(ctx, workerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", byJob.Status)
	assert.Equal(t, node, *byJob.CurrentNode)

	_, err = repo.ByPrompt(ctx, workerID, "no-such-prompt")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func fixtureUser(t *testing.T, ctx context.Context, db *sql.DB) int64 {
	t.Helper()
	var id int64
	suffix := time.Now().UnixNano()
	err := db.QueryRowContext(ctx, `
INSERT INTO users (username, email, password_hash, role_id)
VALUES ($1, $2, 'x', 2) RETURNING id`,
		fmt.Sprintf("bridge-test-%d", suffix), fmt.Sprintf("bridge-test-%d@example.com", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}

func fixtureWorker(t *testing.T, ctx context.Context, db *sql.DB) int64 {
	t.Helper()
	var id int64
	suffix := time.Now().UnixNano()
	err := db.QueryRowContext(ctx, `
INSERT INTO workers (name, status, endpoint_url)
VALUES ($1, 'online', 'http://localhost:8188') RETURNING id`,
		fmt.Sprintf("bridge-test-worker-%d", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}
