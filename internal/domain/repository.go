// Package domain defines the core interfaces and types for Sentinel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for the SQL-backed stores.
// It holds the ledger table (an alternative to the CSV source) and
// custom rule configurations. Incidents are never persisted.
type Repository interface {
	// Ledger operations
	SaveLedger(ctx context.Context, txs []Transaction) error
	ListLedger(ctx context.Context) ([]Transaction, error)
	CountLedger(ctx context.Context) (int, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres", or "" for none
	Driver string `toml:"driver"`

	// SQLite specific
	SQLitePath string `toml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `toml:"postgres_host"`
	PostgresPort     int    `toml:"postgres_port"`
	PostgresUser     string `toml:"postgres_user"`
	PostgresPassword string `toml:"postgres_password"`
	PostgresDB       string `toml:"postgres_db"`
	PostgresSSLMode  string `toml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}
