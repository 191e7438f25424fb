package cache

import "time"

// BytesCache is the minimal byte-oriented cache surface the use cases
// depend on. Bar series and rendered CSV reports are stored through it;
// backends live in pkg/cache.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
	DeleteBytes(key string) error
}
