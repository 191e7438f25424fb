package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
	pkgkafka "ZWatch/pkg/kafka"
)

// RowsConsumerHandler consumes backtest rows from Kafka and writes them to
// the run store. This is the persistence leg of the kafka backend: the API
// publishes rows, this handler lands them in ClickHouse.
//
// Rows accumulate per run and flush as one batch when the buffer reaches
// batchSize or batchTimeout passes, whichever comes first. A failed flush
// keeps the rows buffered for the next attempt; delivery is at-least-once
// and the rows table collapses duplicate (run_id, ts) keys.
type RowsConsumerHandler struct {
	topic     string
	store     domrepo.RunStore
	metrics   domrepo.Metrics
	batchSize int
	batchTO   time.Duration

	mu      sync.Mutex
	pending map[string][]models.SimulatedBar
	count   int
	timer   *time.Timer
}

func NewRowsConsumerHandler(topic string, store domrepo.RunStore, metrics domrepo.Metrics, batchSize int, batchTimeout time.Duration) *RowsConsumerHandler {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchTimeout <= 0 {
		batchTimeout = 2 * time.Second
	}
	return &RowsConsumerHandler{
		topic:     topic,
		store:     store,
		metrics:   metrics,
		batchSize: batchSize,
		batchTO:   batchTimeout,
		pending:   make(map[string][]models.SimulatedBar),
	}
}

func (h *RowsConsumerHandler) Topic() string { return h.topic }

// Handle decodes one published row and buffers it. The message schema
// mirrors KafkaEventPublisher.PublishRows. A full buffer flushes inline so
// a storage failure surfaces on this message and drives the consumer's
// retry/DLQ path.
func (h *RowsConsumerHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		RunID          string  `json:"run_id"`
		Ts             int64   `json:"ts"`
		Close          float64 `json:"close"`
		Mean           float64 `json:"mean"`
		Std            float64 `json:"std"`
		ZScore         float64 `json:"zscore"`
		Scored         bool    `json:"scored"`
		Position       int8    `json:"position"`
		PrevPosition   int8    `json:"prev_position"`
		PriceChangePct float64 `json:"price_change_pct"`
		Trades         float64 `json:"trades"`
		Pnl            float64 `json:"pnl"`
		CumulativePnl  float64 `json:"cumulative_pnl"`
		RunningPeak    float64 `json:"running_peak"`
		Drawdown       float64 `json:"drawdown"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("rows_consumer_unmarshal")
		return err
	}

	row := models.SimulatedBar{
		PositionedBar: models.PositionedBar{
			ScoredBar: models.ScoredBar{
				Bar: models.Bar{
					Timestamp: time.Unix(m.Ts, 0).UTC(),
					Close:     m.Close,
				},
				Mean:   m.Mean,
				Std:    m.Std,
				ZScore: m.ZScore,
				Scored: m.Scored,
			},
			Position: models.Position(m.Position),
		},
		PrevPosition:   models.Position(m.PrevPosition),
		PriceChangePct: m.PriceChangePct,
		Trades:         m.Trades,
		Pnl:            m.Pnl,
		CumulativePnl:  m.CumulativePnl,
		RunningPeak:    m.RunningPeak,
		Drawdown:       m.Drawdown,
	}

	h.mu.Lock()
	h.pending[m.RunID] = append(h.pending[m.RunID], row)
	h.count++
	full := h.count >= h.batchSize
	if !full {
		h.armLocked()
	}
	h.mu.Unlock()

	if full {
		return h.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered row. Rows of a run that failed to store go
// back into the buffer and the first error is returned.
func (h *RowsConsumerHandler) Flush(ctx context.Context) error {
	h.mu.Lock()
	if h.count == 0 {
		h.mu.Unlock()
		return nil
	}
	batch := h.pending
	h.pending = make(map[string][]models.SimulatedBar)
	h.count = 0
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()

	start := time.Now()
	var firstErr error
	for runID, rows := range batch {
		if err := h.store.SaveRows(ctx, runID, rows); err != nil {
			h.metrics.RecordError("rows_consumer_store")
			if firstErr == nil {
				firstErr = err
			}
			h.rebuffer(runID, rows)
			continue
		}
		h.metrics.RecordMessageSent("clickhouse", h.topic)
	}
	h.metrics.RecordLatency("rows_insert", time.Since(start).Seconds())
	return firstErr
}

// rebuffer puts failed rows back at the front of their run's buffer and
// re-arms the timer so they retry without new traffic.
func (h *RowsConsumerHandler) rebuffer(runID string, rows []models.SimulatedBar) {
	h.mu.Lock()
	h.pending[runID] = append(rows, h.pending[runID]...)
	h.count += len(rows)
	h.armLocked()
	h.mu.Unlock()
}

// armLocked starts the flush timer if none is running. Caller holds mu.
func (h *RowsConsumerHandler) armLocked() {
	if h.timer != nil {
		return
	}
	h.timer = time.AfterFunc(h.batchTO, func() {
		h.mu.Lock()
		h.timer = nil
		h.mu.Unlock()
		_ = h.Flush(context.Background())
	})
}

var _ pkgkafka.MessageHandler = (*RowsConsumerHandler)(nil)
