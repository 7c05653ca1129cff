package config

import "fmt"

// validate checks field-level invariants on a fully merged Config, section
// by section, and returns the first failure it finds.
func validate(cfg *Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return NewValidationError("http", "port", fmt.Errorf("%w: must be in 1-65535, got %d", ErrInvalidValue, cfg.HTTP.Port))
	}
	if cfg.HTTP.Host == "" {
		return NewValidationError("http", "host", ErrMissingRequiredField)
	}

	if cfg.JWT.Secret == "" {
		return NewValidationError("jwt", "secret", ErrMissingRequiredField)
	}
	if len(cfg.JWT.Secret) < 16 {
		return NewValidationError("jwt", "secret", fmt.Errorf("%w: must be at least 16 bytes", ErrInvalidValue))
	}
	if cfg.JWT.AccessExpiry <= 0 {
		return NewValidationError("jwt", "access_expiry", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.JWT.RefreshExpiry <= 0 {
		return NewValidationError("jwt", "refresh_expiry", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.JWT.RefreshExpiry < cfg.JWT.AccessExpiry {
		return NewValidationError("jwt", "refresh_expiry", fmt.Errorf("%w: must be >= access_expiry", ErrInvalidValue))
	}

	if cfg.Scheduler.TickInterval <= 0 {
		return NewValidationError("scheduler", "tick_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Scheduler.MaxJobsForScoring <= 0 {
		return NewValidationError("scheduler", "max_jobs_for_scoring", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if !cfg.Scheduler.QuotaEnforcement.IsValid() {
		return NewValidationError("scheduler", "quota_enforcement", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Scheduler.QuotaEnforcement))
	}
	if cfg.Scheduler.WorkerStaleAfter <= 0 {
		return NewValidationError("scheduler", "worker_stale_after", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Scheduler.ShutdownDrainTimeout <= 0 {
		return NewValidationError("scheduler", "shutdown_drain_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if cfg.Webhook.DispatchInterval <= 0 {
		return NewValidationError("webhook", "dispatch_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Webhook.BatchSize <= 0 {
		return NewValidationError("webhook", "batch_size", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Webhook.RequestTimeout <= 0 {
		return NewValidationError("webhook", "request_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Webhook.DefaultMaxAttempts <= 0 {
		return NewValidationError("webhook", "default_max_attempts", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Webhook.MaxBackoff <= 0 {
		return NewValidationError("webhook", "max_backoff", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if cfg.Notification.DigestInterval <= 0 {
		return NewValidationError("notification", "digest_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Notification.EventBufferSize <= 0 {
		return NewValidationError("notification", "event_buffer_size", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if cfg.APIKey.DefaultReadRPM <= 0 {
		return NewValidationError("api_key", "default_read_rpm", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.APIKey.DefaultWriteRPM <= 0 {
		return NewValidationError("api_key", "default_write_rpm", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if cfg.Retention.LockTTL <= 0 {
		return NewValidationError("retention", "lock_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Retention.PresenceStaleAfter <= 0 {
		return NewValidationError("retention", "presence_stale_after", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Retention.MetricsRetention <= 0 {
		return NewValidationError("retention", "metrics_retention", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Retention.SweepInterval <= 0 {
		return NewValidationError("retention", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("log", "level", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return NewValidationError("log", "format", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Log.Format))
	}

	if cfg.WorkerHub.HeartbeatInterval <= 0 {
		return NewValidationError("worker_hub", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.WorkerHub.HeartbeatTimeout <= cfg.WorkerHub.HeartbeatInterval {
		return NewValidationError("worker_hub", "heartbeat_timeout", fmt.Errorf("%w: must be greater than heartbeat_interval", ErrInvalidValue))
	}
	if cfg.WorkerHub.WriteTimeout <= 0 {
		return NewValidationError("worker_hub", "write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.WorkerHub.ReconnectBackoff <= 0 {
		return NewValidationError("worker_hub", "reconnect_backoff", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.WorkerHub.ReconnectMaxDelay < cfg.WorkerHub.ReconnectBackoff {
		return NewValidationError("worker_hub", "reconnect_max_delay", fmt.Errorf("%w: must be >= reconnect_backoff", ErrInvalidValue))
	}
	if cfg.WorkerHub.ShutdownDrain <= 0 {
		return NewValidationError("worker_hub", "shutdown_drain", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}
