package config

import "time"

// RetentionConfig controls background data-retention sweeps: expiring
// collaborative locks, reaping stale presence rows, closing stale refresh
// sessions, and purging old metrics rows.
type RetentionConfig struct {
	// LockTTL is validated at startup but not read: the scheduler tick
	// releases each active lock once its own expires_at has passed.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// PresenceStaleAfter is how long a presence row may go without a
	// heartbeat before it is reaped.
	PresenceStaleAfter time.Duration `yaml:"presence_stale_after"`

	// MetricsRetention is the maximum age of rows in ancillary telemetry
	// tables before the retention sweeper deletes them.
	MetricsRetention time.Duration `yaml:"metrics_retention"`

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		LockTTL:            2 * time.Minute,
		PresenceStaleAfter: 90 * time.Second,
		MetricsRetention:   30 * 24 * time.Hour,
		SweepInterval:      time.Hour,
	}
}
