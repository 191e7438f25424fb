// Package clickhouse opens a database/sql pool against ClickHouse with
// option-based construction and DSN assembly.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Option adjusts the connection settings before the pool opens.
type Option func(*settings)

type settings struct {
	host         string
	port         int
	database     string
	user         string
	password     string
	maxOpen      int
	maxIdle      int
	connLifetime time.Duration
	dialTimeout  time.Duration
	readTimeout  time.Duration
	useHTTP      bool
	asyncInsert  bool
	waitForAsync bool
	maxExecTime  time.Duration
	compression  string
}

func WithHost(host string) Option { return func(s *settings) { s.host = host } }

func WithPort(port int) Option { return func(s *settings) { s.port = port } }

func WithDatabase(name string) Option { return func(s *settings) { s.database = name } }

func WithCredentials(user, password string) Option {
	return func(s *settings) {
		s.user = user
		s.password = password
	}
}

func WithMaxConnections(open, idle int) Option {
	return func(s *settings) {
		s.maxOpen = open
		s.maxIdle = idle
	}
}

func WithTimeouts(dial, read time.Duration) Option {
	return func(s *settings) {
		s.dialTimeout = dial
		s.readTimeout = read
	}
}

// WithHTTP switches from the native protocol to the HTTP interface.
func WithHTTP(enabled bool) Option { return func(s *settings) { s.useHTTP = enabled } }

// WithAsyncInsert makes the server buffer inserts. With wait set, each
// insert still blocks until its buffer is flushed.
func WithAsyncInsert(enabled, wait bool) Option {
	return func(s *settings) {
		s.asyncInsert = enabled
		s.waitForAsync = wait
	}
}

func WithMaxExecutionTime(d time.Duration) Option {
	return func(s *settings) { s.maxExecTime = d }
}

// WithCompression sets the wire compression method (lz4, zstd).
func WithCompression(method string) Option {
	return func(s *settings) { s.compression = method }
}

// Client owns the ClickHouse connection pool.
type Client struct {
	db *sql.DB
}

// NewClient opens the pool and verifies connectivity with a ping.
func NewClient(opts ...Option) (*Client, error) {
	s := settings{
		user:         "default",
		maxOpen:      10,
		maxIdle:      5,
		connLifetime: 5 * time.Minute,
		dialTimeout:  5 * time.Second,
		readTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.host == "" {
		return nil, fmt.Errorf("clickhouse: host is required")
	}

	db, err := sql.Open("clickhouse", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpen)
	db.SetMaxIdleConns(s.maxIdle)
	db.SetConnMaxLifetime(s.connLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{db: db}, nil
}

// DB exposes the pool for query execution.
func (c *Client) DB() *sql.DB { return c.db }

// InitSchema runs DDL statements in order. Statements are expected to
// be IF NOT EXISTS so a restart can replay them.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// dsn assembles a clickhouse-go DSN. Query parameters the driver does
// not recognize travel to the server as query-level settings.
func (s settings) dsn() string {
	port := s.port
	scheme := "clickhouse"
	if s.useHTTP {
		scheme = "http"
		if port == 0 {
			port = 8123
		}
	} else if port == 0 {
		port = 9000
	}

	q := url.Values{}
	if s.dialTimeout > 0 {
		q.Set("dial_timeout", s.dialTimeout.String())
	}
	if s.readTimeout > 0 {
		q.Set("read_timeout", s.readTimeout.String())
	}
	if s.maxExecTime > 0 {
		q.Set("max_execution_time", strconv.Itoa(int(s.maxExecTime.Seconds())))
	}
	if s.asyncInsert {
		q.Set("async_insert", "1")
		if s.waitForAsync {
			q.Set("wait_for_async_insert", "1")
		}
	}
	if s.compression != "" {
		q.Set("compress", s.compression)
	}

	var user *url.Userinfo
	if s.user != "" {
		user = url.UserPassword(s.user, s.password)
	}
	u := url.URL{
		Scheme:   scheme,
		User:     user,
		Host:     net.JoinHostPort(s.host, strconv.Itoa(port)),
		Path:     s.database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
