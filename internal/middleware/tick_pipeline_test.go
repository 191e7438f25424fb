package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
)

type countingProc struct {
	mu   sync.Mutex
	seen []*models.Tick
	fail bool
}

func (p *countingProc) Process(ctx context.Context, t *models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("downstream unavailable")
	}
	p.seen = append(p.seen, t)
	return nil
}

func (p *countingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func (p *countingProc) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

type nopMetrics struct{}

func (nopMetrics) RecordBacktest(status string, seconds float64) {}

func (nopMetrics) RecordBarsFetched(symbol string, n int) {}

func (nopMetrics) RecordTransition(kind string) {}

func (nopMetrics) RecordNotification(delivered bool) {}

func (nopMetrics) RecordMessageSent(backend, topic string) {}

func (nopMetrics) RecordError(kind string) {}

func (nopMetrics) RecordLatency(op string, seconds float64) {}

func (nopMetrics) RecordLastPrice(symbol string, price float64) {}

func (nopMetrics) RecordLastBar(symbol string, unixSeconds int64) {}

func tick(symbol string, price float64) *models.Tick {
	return &models.Tick{Symbol: symbol, Price: price, Volume: 1, Timestamp: time.Now().Unix()}
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	proc := &countingProc{}
	p := NewTickPipeline(proc, nopMetrics{})
	ctx := context.Background()

	cases := []*models.Tick{
		nil,
		{Symbol: "", Price: 1, Volume: 1, Timestamp: 1},
		{Symbol: "BTCUSDT", Price: 1, Volume: 1, Timestamp: 0},
		{Symbol: "BTCUSDT", Price: -1, Volume: 1, Timestamp: 1},
		{Symbol: "BTCUSDT", Price: 1, Volume: -1, Timestamp: 1},
	}
	for i, tc := range cases {
		if err := p.Process(ctx, tc); err == nil {
			t.Fatalf("case %d: invalid tick accepted", i)
		}
	}
	if proc.count() != 0 {
		t.Fatalf("invalid ticks reached downstream: %d", proc.count())
	}
}

func TestPipelineForwardsValidTicks(t *testing.T) {
	proc := &countingProc{}
	p := NewTickPipeline(proc, nopMetrics{}, WithMaxRPS(1000))
	ctx := context.Background()

	if err := p.Process(ctx, tick("BTCUSDT", 64000)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("forwarded = %d, want 1", proc.count())
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &countingProc{}
	p := NewTickPipeline(proc, nopMetrics{}, WithMaxRPS(1))
	ctx := context.Background()

	// second immediate tick for the same symbol is dropped silently
	if err := p.Process(ctx, tick("BTCUSDT", 64000)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := p.Process(ctx, tick("BTCUSDT", 64001)); err != nil {
		t.Fatalf("throttled tick must not error: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("forwarded = %d, want 1", proc.count())
	}

	// other symbols have their own budget
	if err := p.Process(ctx, tick("ETHUSDT", 2400)); err != nil {
		t.Fatalf("other symbol: %v", err)
	}
	if proc.count() != 2 {
		t.Fatalf("forwarded = %d, want 2", proc.count())
	}
}

func TestPipelineTransformRuns(t *testing.T) {
	proc := &countingProc{}
	p := NewTickPipeline(proc, nopMetrics{}, WithMaxRPS(1000), WithTransform(func(t *models.Tick) *models.Tick {
		t.Price *= 2
		return t
	}))
	if err := p.Process(context.Background(), tick("BTCUSDT", 100)); err != nil {
		t.Fatalf("process: %v", err)
	}
	proc.mu.Lock()
	got := proc.seen[0].Price
	proc.mu.Unlock()
	if got != 200 {
		t.Fatalf("transform not applied: price = %v", got)
	}
}

func TestPipelineBuffersAndFlushes(t *testing.T) {
	proc := &countingProc{}
	proc.setFail(true)
	p := NewTickPipeline(proc, nopMetrics{}, WithMaxRPS(1000), WithBufferSize(8))
	ctx := context.Background()

	if err := p.Process(ctx, tick("BTCUSDT", 64000)); err == nil {
		t.Fatalf("expected downstream error")
	}
	if proc.count() != 0 {
		t.Fatalf("tick delivered while failing")
	}

	proc.setFail(false)
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if proc.count() != 1 {
		t.Fatalf("buffered tick not flushed")
	}
}
