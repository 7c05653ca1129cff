package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.DatabaseURL = "postgres://localhost/studiocore"
	cfg.JWT.Secret = "a-sufficiently-long-secret"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validate(validConfig()))
}

func TestValidateRejectsBadHTTPPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http")
}

func TestValidateRejectsMissingJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = ""
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt")
}

func TestValidateRejectsRefreshShorterThanAccess(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessExpiry = time.Hour
	cfg.JWT.RefreshExpiry = time.Minute
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh_expiry")
}

func TestValidateRejectsInvalidQuotaEnforcement(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.QuotaEnforcement = QuotaEnforcement("bogus")
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota_enforcement")
}

func TestValidateRejectsZeroBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Webhook.BatchSize = 0
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestValidateRejectsInvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log")
}

func TestValidateRejectsHeartbeatTimeoutNotGreaterThanInterval(t *testing.T) {
	cfg := validConfig()
	cfg.WorkerHub.HeartbeatInterval = 30 * time.Second
	cfg.WorkerHub.HeartbeatTimeout = 30 * time.Second
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_timeout")
}

func TestValidateRejectsReconnectMaxDelayBelowBackoff(t *testing.T) {
	cfg := validConfig()
	cfg.WorkerHub.ReconnectBackoff = time.Minute
	cfg.WorkerHub.ReconnectMaxDelay = time.Second
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect_max_delay")
}
