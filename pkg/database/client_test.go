package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{DSN: "postgres://localhost/studiocore", MaxOpenConns: 10, MaxIdleConns: 5},
			wantErr: false,
		},
		{
			name:    "missing dsn",
			cfg:     Config{DSN: "", MaxOpenConns: 10, MaxIdleConns: 5},
			wantErr: true,
		},
		{
			name:    "idle conns exceed max conns",
			cfg:     Config{DSN: "postgres://localhost/studiocore", MaxOpenConns: 5, MaxIdleConns: 10},
			wantErr: true,
		},
		{
			name:    "zero max open conns",
			cfg:     Config{DSN: "postgres://localhost/studiocore", MaxOpenConns: 0, MaxIdleConns: 0},
			wantErr: true,
		},
		{
			name:    "negative idle conns",
			cfg:     Config{DSN: "postgres://localhost/studiocore", MaxOpenConns: 10, MaxIdleConns: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/studiocore")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

// TestNewClientAndMigrations only runs against a live PostgreSQL instance
// addressed by STUDIOCORE_TEST_DATABASE_URL; it is skipped otherwise since
// this module never invokes the Go toolchain or a container runtime itself.
func TestNewClientAndMigrations(t *testing.T) {
	dsn := os.Getenv("STUDIOCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDIOCORE_TEST_DATABASE_URL not set, skipping live database test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)

	var count int
	require.NoError(t, client.DB().QueryRowContext(ctx, "SELECT count(*) FROM job_statuses").Scan(&count))
	assert.Equal(t, 9, count)
}
