// Package cache provides the storage layer behind bar-series and
// report caching. Three backends implement the same Service: a bounded
// in-process map, Redis, and a layered combination of the two.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss reports that a key has no live entry.
var ErrCacheMiss = errors.New("cache: key not found")

// Service is the operation set shared by all backends. Get assigns the
// stored value through dest: *string works on every backend, other
// pointer types only on the Redis backend via JSON decoding.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}
