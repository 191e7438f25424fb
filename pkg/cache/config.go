package cache

import "time"

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// RedisOption overrides one Redis connection setting.
type RedisOption func(*RedisConfig)

// WithRedisHost sets the server host.
func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) { c.Host = host }
}

// WithRedisPort sets the server port.
func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) { c.Port = port }
}

// WithRedisPassword sets the auth password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

// WithRedisDB selects the logical database.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPrefix sets the namespace prepended to every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// MemoryConfig bounds the in-process backend.
type MemoryConfig struct {
	MaxSize int
}

// MemoryOption overrides one in-process cache setting.
type MemoryOption func(*MemoryConfig)

// WithMemoryMaxSize caps the number of live entries.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

// LayeredConfig shapes the memory front of a layered cache.
type LayeredConfig struct {
	MemorySize int
	RefillTTL  time.Duration
}

// LayeredOption overrides one layered cache setting.
type LayeredOption func(*LayeredConfig)

// WithLayeredMemorySize caps the number of entries in the memory front.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) { c.MemorySize = size }
}
