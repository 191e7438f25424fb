package usecase

import (
	"context"
	"sync"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
	domsvc "ZWatch/internal/domain/service"
	mid "ZWatch/internal/middleware"
)

// TickCollector reads the live trade stream and feeds ticks through the
// pipeline into the monitor session and the price gauges.
type TickCollector struct {
	stream  domsvc.TickStream
	pipe    *mid.TickPipeline
	metrics domrepo.Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTickCollector creates a new TickCollector instance.
func NewTickCollector(stream domsvc.TickStream, pipe *mid.TickPipeline, metrics domrepo.Metrics) *TickCollector {
	return &TickCollector{
		stream:  stream,
		pipe:    pipe,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

// consume drains the stream and reattaches after every reconnect. The
// stream closes its channels when a connection dies, so each pass reads
// until closure, reconnects, and reads again.
func (c *TickCollector) consume(ctx context.Context) {
	defer c.wg.Done()
	for {
		tickCh, errCh := c.stream.Read(ctx)
		c.drain(ctx, tickCh, errCh)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		c.metrics.RecordError("stream")
		// A failed reconnect falls through to the next Read, which fails
		// fast, so the delay inside Reconnect paces the retry loop.
		if err := c.stream.Reconnect(ctx); err != nil && ctx.Err() != nil {
			return
		}
	}
}

func (c *TickCollector) drain(ctx context.Context, tickCh <-chan *models.Tick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-errCh:
			// Error or closure, either way this connection is done.
			return
		case t, ok := <-tickCh:
			if !ok {
				return
			}
			_ = c.pipe.Process(ctx, t)
			c.metrics.RecordLastPrice(t.Symbol, t.Price)
		}
	}
}

// Shutdown stops the consume loop, the pipeline, and the stream. Safe to
// call when the collector never started.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.pipe.Stop()
	err := c.stream.Close()
	c.wg.Wait()
	return err
}
