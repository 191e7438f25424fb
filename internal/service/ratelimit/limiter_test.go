package ratelimit

import (
	"testing"
	"time"
)

func TestAllowBurstThenDeny(t *testing.T) {
	l := New(0.0001, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("requests within burst should pass")
	}
	if l.Allow("a") {
		t.Fatal("request past burst should be limited")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(0.0001, 1)
	if !l.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if l.Allow("a") {
		t.Fatal("a is exhausted")
	}
	if !l.Allow("b") {
		t.Fatal("b has its own bucket")
	}
}

func TestRefill(t *testing.T) {
	l := New(1000, 1)
	if !l.Allow("a") {
		t.Fatal("first request should pass")
	}
	time.Sleep(5 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("bucket should have refilled")
	}
}
