package config

import (
	"strconv"
	"time"
)

// QuotaEnforcement names how a candidate job whose submitter would exceed
// their daily/weekly GPU-time allowance is treated (spec §4.1 step 6; left
// "to configuration" by spec §9 Open Questions). The value is parsed,
// validated and logged at startup, but cmd/studiocore wires no
// jobs.QuotaEnforcer into the scheduler, so every mode, hard and soft
// included, dispatches every job and no job.quota_warning is emitted.
type QuotaEnforcement string

const (
	// QuotaOff disables quota checking entirely.
	QuotaOff QuotaEnforcement = "off"
	// QuotaSoft dispatches the job anyway but emits a job.quota_warning event.
	QuotaSoft QuotaEnforcement = "soft"
	// QuotaHard skips the candidate job at dispatch time.
	QuotaHard QuotaEnforcement = "hard"
)

// IsValid reports whether q is one of the recognised enforcement modes.
func (q QuotaEnforcement) IsValid() bool {
	switch q {
	case QuotaOff, QuotaSoft, QuotaHard:
		return true
	}
	return false
}

// HTTPConfig controls the bind address of the API server.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the "host:port" listen address.
func (h HTTPConfig) Addr() string {
	return h.Host + ":" + strconv.Itoa(h.Port)
}

// JWTConfig controls access-token signing and refresh-session lifetime.
type JWTConfig struct {
	// Secret is the HMAC signing secret for access tokens (JWT_SECRET).
	Secret string `yaml:"-"`

	// AccessExpiry is the access token lifetime (JWT_ACCESS_EXPIRY_MINS).
	AccessExpiry time.Duration `yaml:"access_expiry"`

	// RefreshExpiry is the refresh session lifetime (JWT_REFRESH_EXPIRY_DAYS).
	RefreshExpiry time.Duration `yaml:"refresh_expiry"`
}

// SchedulerConfig tunes the job lifecycle engine's background scheduler loop.
type SchedulerConfig struct {
	// TickInterval is how often the scheduler wakes to dispatch pending jobs.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxJobsForScoring is the denominator used by the composite load score
	// (spec §4.1 step 5): active_jobs / MaxJobsForScoring, clamped to [0,1].
	MaxJobsForScoring int `yaml:"max_jobs_for_scoring"`

	// QuotaEnforcement names the hard/soft/off quota mode; it does not
	// change dispatch (see the QuotaEnforcement type).
	QuotaEnforcement QuotaEnforcement `yaml:"quota_enforcement"`

	// WorkerStaleAfter is validated at startup but not read: the dispatch
	// candidate snapshot takes every online worker whatever its heartbeat age.
	WorkerStaleAfter time.Duration `yaml:"worker_stale_after"`

	// ShutdownDrainTimeout is validated at startup but not read: graceful
	// shutdown waits for the scheduler's current tick without a deadline.
	ShutdownDrainTimeout time.Duration `yaml:"shutdown_drain_timeout"`
}

// WebhookConfig tunes the webhook delivery engine.
type WebhookConfig struct {
	// DispatchInterval is how often the dispatcher loop drains pending rows.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`

	// BatchSize is the max number of deliveries pulled per dispatcher tick.
	BatchSize int `yaml:"batch_size"`

	// RequestTimeout bounds each outbound HTTP delivery attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DefaultMaxAttempts is validated at startup but not read: a delivery
	// row created without an attempt budget gets the repository's fixed 3.
	DefaultMaxAttempts int `yaml:"default_max_attempts"`

	// MaxBackoff is validated at startup but not read: the dispatcher caps
	// its min(2^n, 3600)s retry delay with its own maxRetryDelay of one hour.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// NotificationConfig tunes the notification router and digest scheduler.
type NotificationConfig struct {
	// DigestInterval is the fixed cadence the digest scheduler wakes at.
	DigestInterval time.Duration `yaml:"digest_interval"`

	// EventBufferSize is validated at startup but not read: the bus has no
	// global buffer, and the notification router subscribes with
	// events.DefaultBufferSize.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// APIKeyConfig supplies default per-minute rate limits for newly issued keys.
type APIKeyConfig struct {
	DefaultReadRPM  int `yaml:"default_read_rpm"`
	DefaultWriteRPM int `yaml:"default_write_rpm"`
}

// LogConfig controls the process-wide slog logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// WorkerHubConfig tunes the client-facing and render-worker WebSocket hubs.
type WorkerHubConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	ShutdownDrain     time.Duration `yaml:"shutdown_drain"`
}

// tuningFile is the shape of the optional YAML tuning file. All fields are
// pointers/omittable so mergo only overrides what the operator sets.
type tuningFile struct {
	HTTP         *HTTPConfig         `yaml:"http"`
	Scheduler    *SchedulerConfig    `yaml:"scheduler"`
	Webhook      *WebhookConfig      `yaml:"webhook"`
	Notification *NotificationConfig `yaml:"notification"`
	APIKey       *APIKeyConfig       `yaml:"api_key"`
	Retention    *RetentionConfig    `yaml:"retention"`
	Log          *LogConfig          `yaml:"log"`
	WorkerHub    *WorkerHubConfig    `yaml:"worker_hub"`
}

