package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
	mid "ZWatch/internal/middleware"
)

// fakeTickStream hands out one batch of ticks per connection. Every batch
// except the last ends with the Read channels closing, simulating the
// connection dying so the collector has to reconnect.
type fakeTickStream struct {
	mu       sync.Mutex
	batches  [][]*models.Tick
	connects int
	closed   bool
}

func (s *fakeTickStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.closed = false
	return nil
}

func (s *fakeTickStream) Subscribe(ctx context.Context) error { return nil }

func (s *fakeTickStream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	s.mu.Lock()
	var batch []*models.Tick
	if len(s.batches) > 0 {
		batch = s.batches[0]
		s.batches = s.batches[1:]
	}
	more := len(s.batches) > 0
	s.mu.Unlock()

	ticks := make(chan *models.Tick)
	errs := make(chan error, 1)
	go func() {
		for _, t := range batch {
			ticks <- t
		}
		if more {
			close(ticks)
			close(errs)
		}
	}()
	return ticks, errs
}

func (s *fakeTickStream) Reconnect(ctx context.Context) error { return s.Connect(ctx) }

func (s *fakeTickStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeTickStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeTickStream) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

type recordingProc struct {
	mu    sync.Mutex
	ticks []*models.Tick
}

func (p *recordingProc) Process(ctx context.Context, t *models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *recordingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

func TestTickCollectorReattachesAfterStreamDeath(t *testing.T) {
	stream := &fakeTickStream{batches: [][]*models.Tick{
		{{Symbol: "BTCUSDT", Price: 64000, Volume: 1, Timestamp: 1}},
		{{Symbol: "ETHUSDT", Price: 2400, Volume: 1, Timestamp: 2}},
	}}
	proc := &recordingProc{}
	met := newFakeMetrics()
	pipe := mid.NewTickPipeline(proc, met, mid.WithMaxRPS(1000))
	c := NewTickCollector(stream, pipe, met)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := proc.count(); got != 2 {
		t.Fatalf("ticks delivered = %d, want 2", got)
	}
	// Initial connect plus one reconnect after the first stream death.
	if got := stream.connectCount(); got != 2 {
		t.Fatalf("connects = %d, want 2", got)
	}
	if met.count("error_stream") == 0 {
		t.Fatal("stream death not counted")
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTickCollectorShutdownWithoutStart(t *testing.T) {
	stream := &fakeTickStream{}
	met := newFakeMetrics()
	c := NewTickCollector(stream, mid.NewTickPipeline(&recordingProc{}, met), met)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// Repeat shutdown must not panic on the stop channel.
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
