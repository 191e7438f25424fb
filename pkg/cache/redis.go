package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the Redis backend. Every key is namespaced under the
// configured prefix so one database can host several deployments.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection with a
// ping before returning.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	cfg := &RedisConfig{Host: "localhost", Port: 6379, Prefix: "zwatch"}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client, prefix: cfg.Prefix}, nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) namespaced(key string) string {
	return c.prefix + ":" + key
}

// Set stores strings as-is and everything else as JSON, so entries
// stay readable from redis-cli.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var payload []byte
	switch v := value.(type) {
	case string:
		payload = []byte(v)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w", key, err)
		}
		payload = b
	}
	return c.client.Set(ctx, c.namespaced(key), payload, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := c.client.Get(ctx, c.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if sp, ok := dest.(*string); ok {
		*sp = string(raw)
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// Delete unlinks keys so memory reclamation happens off the command
// path.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = c.namespaced(key)
	}
	return c.client.Unlink(ctx, namespaced...).Err()
}
