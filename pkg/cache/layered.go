package cache

import (
	"context"
	"time"
)

// LayeredCache fronts Redis with the in-process cache. Writes go to
// both layers; reads hit memory first and refill it on a Redis hit.
type LayeredCache struct {
	front     *MemoryCache
	back      *RedisCache
	refillTTL time.Duration
}

// NewLayeredCache wraps an existing Redis backend with a memory front.
func NewLayeredCache(back *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{MemorySize: 1000, RefillTTL: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		front:     NewMemoryCache(WithMemoryMaxSize(cfg.MemorySize)),
		back:      back,
		refillTTL: cfg.RefillTTL,
	}
}

// Set writes through to Redis first. A Redis failure keeps the entry
// out of both layers so the front never serves a value Redis lost.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := lc.back.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return lc.front.Set(ctx, key, value, ttl)
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.front.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.back.Get(ctx, key, dest); err != nil {
		return err
	}
	// Refill the front with the concrete value, never the dest pointer:
	// the memory layer hands values back by assignment on the next hit.
	// The short refill TTL keeps the front from outliving the Redis
	// entry by much.
	if sp, ok := dest.(*string); ok {
		return lc.front.Set(ctx, key, *sp, lc.refillTTL)
	}
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	if err := lc.front.Delete(ctx, keys...); err != nil {
		return err
	}
	return lc.back.Delete(ctx, keys...)
}

// Close releases both layers.
func (lc *LayeredCache) Close() error {
	_ = lc.front.Close()
	return lc.back.Close()
}
