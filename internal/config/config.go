// Package config loads Sentinel configuration from TOML and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// Load reads configuration from path on top of the defaults.
// A missing file or empty path yields the defaults. Environment
// overrides are applied last, then the result is validated.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Warn("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("decode TOML: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies SENTINEL_* environment variables.
func ApplyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("SENTINEL_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("SENTINEL_LEDGER_SOURCE"); v != "" {
		cfg.Ledger.Source = v
	}
	if v := os.Getenv("SENTINEL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_HIGH_AMOUNT"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.HighAmountThreshold = threshold
		}
	}
	if v := os.Getenv("SENTINEL_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Stream.Seed = seed
		}
	}
	if v := os.Getenv("SENTINEL_PACE"); v != "" {
		if pace, err := time.ParseDuration(v); err == nil {
			cfg.Stream.Pace = pace
		}
	}
	if v := os.Getenv("SENTINEL_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("SENTINEL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("SENTINEL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("SENTINEL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("SENTINEL_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if os.Getenv("SENTINEL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors.
func Validate(cfg *domain.Config) error {
	var errs ValidationErrors

	switch cfg.Ledger.Source {
	case "csv":
		if cfg.Ledger.Path == "" {
			errs = append(errs, ValidationError{"ledger.path", "required for csv source"})
		}
	case "sql":
		if cfg.Repository.Driver == "" {
			errs = append(errs, ValidationError{"repository.driver", "required for sql ledger source"})
		}
	default:
		errs = append(errs, ValidationError{"ledger.source", fmt.Sprintf("unsupported source %q", cfg.Ledger.Source)})
	}

	switch cfg.Repository.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, ValidationError{"repository.driver", fmt.Sprintf("unsupported driver %q", cfg.Repository.Driver)})
	}
	if cfg.Scoring.LoadCustomRules && cfg.Repository.Driver == "" {
		errs = append(errs, ValidationError{"scoring.load_custom_rules", "requires a repository driver"})
	}

	if cfg.Scoring.HighAmountThreshold < 0 {
		errs = append(errs, ValidationError{"scoring.high_amount_threshold", "must not be negative"})
	}
	if cfg.Stream.MinBatch < 1 {
		errs = append(errs, ValidationError{"stream.min_batch", "must be at least 1"})
	}
	if cfg.Stream.MaxBatch < cfg.Stream.MinBatch {
		errs = append(errs, ValidationError{"stream.max_batch", "must be >= min_batch"})
	}
	if cfg.Stream.Pace < 0 {
		errs = append(errs, ValidationError{"stream.pace", "must not be negative"})
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", "out of range"})
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(cfg domain.LoggingConfig) slog.Level {
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: LogLevel(cfg)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
