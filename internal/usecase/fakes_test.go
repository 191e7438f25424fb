package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
	domsvc "ZWatch/internal/domain/service"
	applogger "ZWatch/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	log, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// fakeMarket serves a fixed ascending bar series, honoring [start, end).
type fakeMarket struct {
	mu        sync.Mutex
	bars      []models.Bar
	err       error
	fetches   int
	latestErr error
}

func (m *fakeMarket) FetchSeries(ctx context.Context, symbol string, start, end time.Time, iv models.Interval) ([]models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Bar
	for _, b := range m.bars {
		if b.Timestamp.Before(start) || !b.Timestamp.Before(end) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", domsvc.ErrDataUnavailable, symbol)
	}
	return out, nil
}

func (m *fakeMarket) FetchLatestClosedBar(ctx context.Context, symbol string, iv models.Interval) (models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return models.Bar{}, m.latestErr
	}
	if len(m.bars) == 0 {
		return models.Bar{}, domsvc.ErrDataUnavailable
	}
	return m.bars[len(m.bars)-1], nil
}

func (m *fakeMarket) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// fakeNotifier records every status text it was asked to deliver.
type fakeNotifier struct {
	mu        sync.Mutex
	delivered bool
	sent      []string
}

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{delivered: true} }

func (n *fakeNotifier) Send(ctx context.Context, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return n.delivered
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1]
}

// fakeStore is an in-memory RunStore with append-only version semantics:
// every SaveRun appends and GetRun resolves the newest record.
type fakeStore struct {
	mu       sync.Mutex
	runs     map[string][]*models.BacktestRun
	rows     map[string][]models.SimulatedBar
	saveErr  error
	rowsErr  error
	saveRuns int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs: make(map[string][]*models.BacktestRun),
		rows: make(map[string][]models.SimulatedBar),
	}
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }

func (s *fakeStore) SaveRun(ctx context.Context, run *models.BacktestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *run
	s.runs[run.ID] = append(s.runs[run.ID], &cp)
	s.saveRuns++
	return nil
}

func (s *fakeStore) GetRun(ctx context.Context, id string) (*models.BacktestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.runs[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (s *fakeStore) SaveRows(ctx context.Context, runID string, rows []models.SimulatedBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rowsErr != nil {
		return s.rowsErr
	}
	s.rows[runID] = append(s.rows[runID], rows...)
	return nil
}

func (s *fakeStore) GetRows(ctx context.Context, runID string) ([]models.SimulatedBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SimulatedBar, len(s.rows[runID]))
	copy(out, s.rows[runID])
	return out, nil
}

func (s *fakeStore) Health(ctx context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) storedRows(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[runID])
}

func (s *fakeStore) versions(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs[runID])
}

// fakePublisher records published rows and events.
type fakePublisher struct {
	mu     sync.Mutex
	rows   map[string]int
	events []*models.SignalEvent
	err    error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{rows: make(map[string]int)}
}

func (p *fakePublisher) PublishRows(ctx context.Context, runID string, rows []models.SimulatedBar) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.rows[runID] += len(rows)
	return nil
}

func (p *fakePublisher) PublishEvent(ctx context.Context, ev *models.SignalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	cp := *ev
	p.events = append(p.events, &cp)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) eventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *fakePublisher) publishedRows(runID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows[runID]
}

// fakeMetrics counts recorder calls by name.
type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{counts: make(map[string]int)} }

func (m *fakeMetrics) bump(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *fakeMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *fakeMetrics) RecordBacktest(status string, seconds float64) { m.bump("backtest_" + status) }

func (m *fakeMetrics) RecordBarsFetched(symbol string, n int) { m.bump("bars_fetched") }

func (m *fakeMetrics) RecordTransition(kind string) { m.bump("transition_" + kind) }

func (m *fakeMetrics) RecordNotification(delivered bool) {
	if delivered {
		m.bump("notify_ok")
	} else {
		m.bump("notify_fail")
	}
}

func (m *fakeMetrics) RecordMessageSent(backend, topic string) { m.bump("sent_" + backend) }

func (m *fakeMetrics) RecordError(kind string) { m.bump("error_" + kind) }

func (m *fakeMetrics) RecordLatency(op string, seconds float64) { m.bump("latency_" + op) }

func (m *fakeMetrics) RecordLastPrice(symbol string, price float64) { m.bump("last_price") }

func (m *fakeMetrics) RecordLastBar(symbol string, unixSeconds int64) { m.bump("last_bar") }

// fakeCache is a map-backed BytesCache.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *fakeCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) DeleteBytes(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeQueue records published queue messages.
type fakeQueue struct {
	mu       sync.Mutex
	payloads []interface{}
	types    []string
	err      error
}

func (q *fakeQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

// hourlyBars builds an ascending 1h series starting 2024-10-01 00:00 UTC.
func hourlyBars(closes ...float64) []models.Bar {
	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return out
}
