// Package config loads and validates process configuration: an optional
// YAML tuning file merged with environment variables, following spec §6's
// environment table and the ambient defaults documented in SPEC_FULL.md.
package config

import "time"

// Config is the fully resolved, validated configuration for the process.
type Config struct {
	configDir string

	DatabaseURL string

	HTTP         HTTPConfig
	JWT          JWTConfig
	Scheduler    SchedulerConfig
	Webhook      WebhookConfig
	Notification NotificationConfig
	APIKey       APIKeyConfig
	Retention    RetentionConfig
	Log          LogConfig
	WorkerHub    WorkerHubConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{Host: "0.0.0.0", Port: 8080},
		JWT: JWTConfig{
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 7 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			TickInterval:         2 * time.Second,
			MaxJobsForScoring:    8,
			QuotaEnforcement:     QuotaOff,
			WorkerStaleAfter:     30 * time.Second,
			ShutdownDrainTimeout: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			DispatchInterval:   2 * time.Second,
			BatchSize:          25,
			RequestTimeout:     10 * time.Second,
			DefaultMaxAttempts: 3,
			MaxBackoff:         time.Hour,
		},
		Notification: NotificationConfig{
			DigestInterval:  time.Hour,
			EventBufferSize: 1024,
		},
		APIKey: APIKeyConfig{
			DefaultReadRPM:  600,
			DefaultWriteRPM: 60,
		},
		Retention: *DefaultRetentionConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		WorkerHub: WorkerHubConfig{
			HeartbeatInterval: 15 * time.Second,
			HeartbeatTimeout:  45 * time.Second,
			WriteTimeout:      5 * time.Second,
			ReconnectBackoff:  time.Second,
			ReconnectMaxDelay: 30 * time.Second,
			ShutdownDrain:     5 * time.Second,
		},
	}
}
