package domain

import "time"

// Config holds the complete Sentinel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server"`

	// Ledger source
	Ledger LedgerConfig `toml:"ledger"`

	// Scoring and live feed settings
	Scoring ScoringConfig `toml:"scoring"`
	Stream  StreamConfig  `toml:"stream"`

	// Component configurations
	Repository RepositoryConfig `toml:"repository"`
	Cache      CacheConfig      `toml:"cache"`
	EventBus   EventBusConfig   `toml:"event_bus"`

	// Observability
	Logging LoggingConfig `toml:"logging"`
	Tracing TracingConfig `toml:"tracing"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  int    `toml:"read_timeout"`  // seconds
	WriteTimeout int    `toml:"write_timeout"` // seconds
}

// LedgerConfig selects where the ledger is loaded from.
type LedgerConfig struct {
	// Source is "csv" or "sql"
	Source string `toml:"source"`

	// Path of the CSV file when Source is "csv"
	Path string `toml:"path"`
}

// ScoringConfig holds the tunable parts of the risk scorer.
type ScoringConfig struct {
	// HighAmountThreshold is the absolute amount above which HIGH_AMOUNT fires
	HighAmountThreshold float64 `toml:"high_amount_threshold"`

	// Workers bounds row-parallel scoring of large datasets
	Workers int `toml:"workers"`

	// LoadCustomRules enables CEL rules from the repository
	LoadCustomRules bool `toml:"load_custom_rules"`
}

// StreamConfig holds the live feed simulator settings.
type StreamConfig struct {
	MinBatch int `toml:"min_batch"`
	MaxBatch int `toml:"max_batch"`

	// Seed makes feeds reproducible when non-zero
	Seed uint64 `toml:"seed"`

	// Pace is the default delay between batch deliveries for paced consumers
	Pace time.Duration `toml:"pace"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default scoring and feed constants.
const (
	DefaultHighAmountThreshold = 500000.0
	DefaultMinBatch            = 8
	DefaultMaxBatch            = 12
)

// DefaultConfig returns the default configuration: CSV ledger, no database,
// in-memory cache and channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Ledger: LedgerConfig{
			Source: "csv",
			Path:   "data/paysim.csv",
		},
		Scoring: ScoringConfig{
			HighAmountThreshold: DefaultHighAmountThreshold,
			Workers:             8,
		},
		Stream: StreamConfig{
			MinBatch: DefaultMinBatch,
			MaxBatch: DefaultMaxBatch,
			Pace:     3 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "",
			SQLitePath: "./sentinel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentinel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
