package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestDSNNative(t *testing.T) {
	s := settings{
		host:        "db1",
		port:        9000,
		database:    "metrics",
		user:        "default",
		password:    "secret",
		dialTimeout: 5 * time.Second,
		readTimeout: 10 * time.Second,
		maxExecTime: 30 * time.Second,
		asyncInsert: true,
		compression: "lz4",
	}

	u, err := url.Parse(s.dsn())
	if err != nil {
		t.Fatalf("dsn did not parse: %v", err)
	}
	if u.Scheme != "clickhouse" {
		t.Fatalf("scheme = %q, want clickhouse", u.Scheme)
	}
	if u.Host != "db1:9000" {
		t.Fatalf("host = %q", u.Host)
	}
	if u.Path != "/metrics" {
		t.Fatalf("path = %q", u.Path)
	}
	if got := u.User.Username(); got != "default" {
		t.Fatalf("user = %q", got)
	}
	if pw, _ := u.User.Password(); pw != "secret" {
		t.Fatalf("password = %q", pw)
	}

	q := u.Query()
	if q.Get("dial_timeout") != "5s" {
		t.Fatalf("dial_timeout = %q", q.Get("dial_timeout"))
	}
	if q.Get("read_timeout") != "10s" {
		t.Fatalf("read_timeout = %q", q.Get("read_timeout"))
	}
	if q.Get("max_execution_time") != "30" {
		t.Fatalf("max_execution_time = %q", q.Get("max_execution_time"))
	}
	if q.Get("async_insert") != "1" {
		t.Fatalf("async_insert = %q", q.Get("async_insert"))
	}
	if q.Has("wait_for_async_insert") {
		t.Fatal("wait_for_async_insert set without wait enabled")
	}
	if q.Get("compress") != "lz4" {
		t.Fatalf("compress = %q", q.Get("compress"))
	}
}

func TestDSNHTTPDefaultsPort(t *testing.T) {
	s := settings{host: "db1", useHTTP: true}

	u, err := url.Parse(s.dsn())
	if err != nil {
		t.Fatalf("dsn did not parse: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", u.Scheme)
	}
	if u.Host != "db1:8123" {
		t.Fatalf("host = %q, want db1:8123", u.Host)
	}
	if u.User != nil {
		t.Fatalf("userinfo = %q, want none", u.User)
	}
}

func TestDSNWaitForAsyncInsert(t *testing.T) {
	s := settings{host: "db1", asyncInsert: true, waitForAsync: true}

	u, err := url.Parse(s.dsn())
	if err != nil {
		t.Fatalf("dsn did not parse: %v", err)
	}
	if got := u.Query().Get("wait_for_async_insert"); got != "1" {
		t.Fatalf("wait_for_async_insert = %q, want 1", got)
	}
}
