package cache

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// RedisConfig holds Redis connection settings. Zero fields take the tag
// default.
type RedisConfig struct {
	Host         string        `default:"localhost"`
	Port         int           `default:"6379"`
	Password     string
	DB           int
	PoolSize     int           `default:"10"`
	MinIdleConns int           `default:"5"`
	PoolTimeout  time.Duration `default:"30s"`
	DialTimeout  time.Duration `default:"5s"`
	Prefix       string        `default:"alphadesk"`
}

func (c RedisConfig) addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type RedisOption func(*RedisConfig)

// WithRedisAddr sets the server address.
func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) { c.Host, c.Port = host, port }
}

// WithRedisAuth selects the logical database and its password.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) { c.Password, c.DB = password, db }
}

func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) { c.PoolSize, c.MinIdleConns, c.PoolTimeout = poolSize, minIdleConns, timeout }
}

// WithRedisPrefix namespaces every key as "<prefix>:<key>".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// MemoryConfig sizes the in-process cache. MaxSize zero disables eviction.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration `default:"5m"`
}

type MemoryOption func(*MemoryConfig)

// WithMemoryMaxSize caps entries; the least recently used is evicted first.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

func buildRedisConfig(opts []RedisOption) (*RedisConfig, error) {
	cfg := &RedisConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	return cfg, nil
}

func buildMemoryConfig(opts []MemoryOption) *MemoryConfig {
	cfg := &MemoryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	_ = defaults.Set(cfg)
	return cfg
}
