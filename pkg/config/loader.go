package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration the way the teacher's
// config.Initialize does: read an optional YAML tuning file, env-expand it,
// merge it over built-in defaults, overlay required/optional environment
// variables, then validate the result before returning it ready for use.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := defaultConfig()
	cfg.configDir = configDir

	if err := loadTuningFile(configDir, cfg); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"http_addr", cfg.HTTP.Addr(),
		"scheduler_tick", cfg.Scheduler.TickInterval,
		"quota_enforcement", cfg.Scheduler.QuotaEnforcement)

	_ = ctx // reserved for future context-aware loading (e.g. remote config store)
	return cfg, nil
}

// loadTuningFile reads tuning.yaml from configDir, if present, env-expands
// it, and merges it over cfg's built-in defaults. A missing file is not an
// error — every field already has a built-in default.
func loadTuningFile(configDir string, cfg *Config) error {
	path := filepath.Join(configDir, "tuning.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var tf tuningFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if tf.HTTP != nil {
		if err := mergo.Merge(&cfg.HTTP, *tf.HTTP, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.Scheduler != nil {
		if err := mergo.Merge(&cfg.Scheduler, *tf.Scheduler, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.Webhook != nil {
		if err := mergo.Merge(&cfg.Webhook, *tf.Webhook, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.Notification != nil {
		if err := mergo.Merge(&cfg.Notification, *tf.Notification, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.APIKey != nil {
		if err := mergo.Merge(&cfg.APIKey, *tf.APIKey, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.Retention != nil {
		if err := mergo.Merge(&cfg.Retention, *tf.Retention, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.Log != nil {
		if err := mergo.Merge(&cfg.Log, *tf.Log, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}
	if tf.WorkerHub != nil {
		if err := mergo.Merge(&cfg.WorkerHub, *tf.WorkerHub, mergo.WithOverride); err != nil {
			return NewLoadError(path, err)
		}
	}

	return nil
}

// applyEnv overlays environment variables per spec §6's table plus the
// ambient additions documented in SPEC_FULL.md.
func applyEnv(cfg *Config) error {
	dbURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok || dbURL == "" {
		return NewValidationError("database", "DATABASE_URL", ErrMissingRequiredField)
	}
	cfg.DatabaseURL = dbURL

	secret, ok := os.LookupEnv("JWT_SECRET")
	if !ok || secret == "" {
		return NewValidationError("jwt", "JWT_SECRET", ErrMissingRequiredField)
	}
	cfg.JWT.Secret = secret

	if v := os.Getenv("JWT_ACCESS_EXPIRY_MINS"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil {
			return NewValidationError("jwt", "JWT_ACCESS_EXPIRY_MINS", err)
		}
		cfg.JWT.AccessExpiry = time.Duration(mins) * time.Minute
	}

	if v := os.Getenv("JWT_REFRESH_EXPIRY_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return NewValidationError("jwt", "JWT_REFRESH_EXPIRY_DAYS", err)
		}
		cfg.JWT.RefreshExpiry = time.Duration(days) * 24 * time.Hour
	}

	if v := os.Getenv("HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return NewValidationError("http", "PORT", err)
		}
		cfg.HTTP.Port = port
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("API_KEY_RATE_LIMIT_WINDOW"); v != "" {
		// Accepted and ignored: per-key limits are stored on the key row
		// itself, and the defaults come from APIKeyConfig.
		_ = v
	}

	if v := os.Getenv("SCHEDULER_QUOTA_ENFORCEMENT"); v != "" {
		cfg.Scheduler.QuotaEnforcement = QuotaEnforcement(v)
	}

	return nil
}
