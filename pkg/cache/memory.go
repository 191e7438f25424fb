package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	memoryDefaultTTL    = 24 * time.Hour
	memorySweepInterval = 5 * time.Minute
)

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
	lastUsed  time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryCache is the bounded in-process backend. When full it drops
// the least recently used entry, and a janitor sweeps expired entries
// so keys that are never read again do not pin memory until eviction.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	maxSize int

	janitor   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache builds the in-process backend and starts its janitor.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}

	mc := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		maxSize: cfg.MaxSize,
		janitor: time.NewTicker(memorySweepInterval),
		done:    make(chan struct{}),
	}
	go mc.sweep()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = memoryDefaultTTL
	}
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Evict only when inserting a new key at capacity. Updates reuse
	// the existing slot.
	if _, ok := mc.entries[key]; !ok && len(mc.entries) >= mc.maxSize {
		mc.evictOldest()
	}
	mc.entries[key] = &memoryEntry{value: value, expiresAt: now.Add(ttl), lastUsed: now}
	return nil
}

// Get hands stored values back by assignment, not serialization, so
// dest must be *string or *interface{}.
func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[key]
	if !ok {
		return ErrCacheMiss
	}
	if e.expired(now) {
		delete(mc.entries, key)
		return ErrCacheMiss
	}
	e.lastUsed = now

	switch d := dest.(type) {
	case *string:
		s, ok := e.value.(string)
		if !ok {
			return fmt.Errorf("cache: entry for %q holds %T, not string", key, e.value)
		}
		*d = s
		return nil
	case *interface{}:
		*d = e.value
		return nil
	}
	return fmt.Errorf("cache: unsupported destination type %T", dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.entries, key)
	}
	return nil
}

// evictOldest removes the least recently used entry. Callers hold
// mc.mu. Linear scan is fine at the sizes this cache is bounded to.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range mc.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

func (mc *MemoryCache) sweep() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.janitor.C:
			now := time.Now()
			mc.mu.Lock()
			for key, e := range mc.entries {
				if e.expired(now) {
					delete(mc.entries, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the janitor goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.janitor.Stop()
		close(mc.done)
	})
	return nil
}
