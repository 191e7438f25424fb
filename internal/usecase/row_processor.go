package usecase

import (
	"context"
	"fmt"
	"time"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
)

// RowProcessor routes backtest rows to the configured backend: "kafka"
// publishes them for the rows consumer to persist, "clickhouse" writes them
// directly.
type RowProcessor struct {
	pub     domrepo.EventPublisher
	store   domrepo.RunStore
	metrics domrepo.Metrics
	backend string
}

// NewRowProcessor creates a new RowProcessor instance.
func NewRowProcessor(
	pub domrepo.EventPublisher,
	store domrepo.RunStore,
	metrics domrepo.Metrics,
	backend string,
) *RowProcessor {
	return &RowProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Dispatch routes one run's rows to the configured backend.
func (p *RowProcessor) Dispatch(ctx context.Context, runID string, rows []models.SimulatedBar) error {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.PublishRows(ctx, runID, rows)
	case "clickhouse":
		err = p.store.SaveRows(ctx, runID, rows)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("dispatch_rows")
		return fmt.Errorf("dispatch rows: %w", err)
	}

	p.metrics.RecordMessageSent(p.backend, "backtest_rows")
	p.metrics.RecordLatency("dispatch_rows", time.Since(start).Seconds())

	return nil
}

// Close closes the underlying publisher if available. The run store is
// owned by the application lifecycle, not the processor.
func (p *RowProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
}
