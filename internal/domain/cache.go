package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching forensic results.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `toml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `toml:"local_max_size"`
	LocalTTL     time.Duration `toml:"local_ttl"`

	// Redis settings
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `toml:"two_phase"` // If true, check local first, then Redis

	// TTL applied to cached forensic results
	ResultTTL time.Duration `toml:"result_ttl"`
}
