package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateKeyWithParams(t *testing.T) {
	got := GenerateKeyWithParams("series", "BTCUSDT", "1h", 42)
	want := "series:BTCUSDT:1h:42"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
	if got := GenerateKeyWithParams("bare"); got != "bare" {
		t.Fatalf("key without params = %q, want %q", got, "bare")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var got string
	if err := mc.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get expired = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "a", "1", time.Minute); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := mc.Set(ctx, "b", "2", time.Minute); err != nil {
		t.Fatalf("set b: %v", err)
	}

	// Touch a so b becomes the eviction candidate.
	var v string
	if err := mc.Get(ctx, "a", &v); err != nil {
		t.Fatalf("get a: %v", err)
	}
	if err := mc.Set(ctx, "c", "3", time.Minute); err != nil {
		t.Fatalf("set c: %v", err)
	}

	if err := mc.Get(ctx, "b", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get b = %v, want ErrCacheMiss", err)
	}
	if err := mc.Get(ctx, "a", &v); err != nil || v != "1" {
		t.Fatalf("get a = %q, %v", v, err)
	}
	if err := mc.Get(ctx, "c", &v); err != nil || v != "3" {
		t.Fatalf("get c = %q, %v", v, err)
	}
}

func TestMemoryCacheUpdateDoesNotEvict(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if err := mc.Set(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	// Rewriting an existing key at capacity must not drop the other one.
	if err := mc.Set(ctx, "a", "v2", time.Minute); err != nil {
		t.Fatalf("update a: %v", err)
	}

	var v string
	if err := mc.Get(ctx, "b", &v); err != nil {
		t.Fatalf("get b after update = %v", err)
	}
	if err := mc.Get(ctx, "a", &v); err != nil || v != "v2" {
		t.Fatalf("get a = %q, %v", v, err)
	}
}

func TestMemoryCacheDestinations(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "s", "text", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var s string
	if err := mc.Get(ctx, "s", &s); err != nil || s != "text" {
		t.Fatalf("string dest = %q, %v", s, err)
	}

	var any interface{}
	if err := mc.Get(ctx, "s", &any); err != nil || any != "text" {
		t.Fatalf("interface dest = %v, %v", any, err)
	}

	var n int
	if err := mc.Get(ctx, "s", &n); err == nil {
		t.Fatal("int dest should be rejected")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mc.Delete(ctx, "k", "absent"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var v string
	if err := mc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get deleted = %v, want ErrCacheMiss", err)
	}
}
