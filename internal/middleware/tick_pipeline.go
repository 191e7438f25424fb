package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
)

// Proc is the downstream consumer side of the pipeline.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

const (
	defaultMaxRPS   = 20
	defaultBufSize  = 1000
	flushBackoffMin = 50 * time.Millisecond
	flushBackoffMax = 2 * time.Second
)

// TickPipeline sits between the WebSocket feed and the tick consumers.
// It validates, throttles per symbol, optionally transforms, and buffers
// ticks the downstream consumer rejected so the flusher can retry them.
type TickPipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	maxRPS    int
	bufSize   int
	transform func(*models.Tick) *models.Tick

	bufCh  chan *models.Tick
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	lastSeen map[string]time.Time
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS caps accepted ticks per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets how many rejected ticks are held for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform installs a hook that rewrites ticks before delivery.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *TickPipeline) { p.transform = fn }
}

func NewTickPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   defaultMaxRPS,
		bufSize:  defaultBufSize,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches the retry flusher. The pipeline is not restartable
// after Stop.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.flush(ctx)
}

// Stop ends the retry flusher and waits for it to exit.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// flush retries buffered ticks, backing off while downstream stays down.
func (p *TickPipeline) flush(ctx context.Context) {
	defer p.wg.Done()
	backoff := flushBackoffMin
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.bufCh:
			if err := p.proc.Process(ctx, t); err == nil {
				backoff = flushBackoffMin
				continue
			}
			p.metrics.RecordError("pipeline_flush")
			// Requeue at the back if there is room. Ticks carry the
			// latest price, so dropping under pressure is acceptable.
			select {
			case p.bufCh <- t:
			default:
				p.metrics.RecordError("pipeline_buffer_drop")
			}
			select {
			case <-p.stopCh:
				return
			case <-time.After(backoff):
			}
			if backoff < flushBackoffMax {
				backoff *= 2
			}
		}
	}
}

// Process validates, throttles, and forwards a tick. A downstream
// failure buffers the tick for the flusher and surfaces the error.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform")
			return err
		}
	}
	if !p.allow(t.Symbol, start) {
		// Over budget for the symbol. Drop without error so the feed
		// reader keeps the connection.
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}
	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return errors.New("tick nil")
	}
	if t.Symbol == "" {
		return errors.New("symbol empty")
	}
	if t.Timestamp <= 0 {
		return errors.New("timestamp invalid")
	}
	if t.Price < 0 || t.Volume < 0 {
		return errors.New("negative price or volume")
	}
	return nil
}

func (p *TickPipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	minGap := time.Second / time.Duration(p.maxRPS)
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < minGap {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
