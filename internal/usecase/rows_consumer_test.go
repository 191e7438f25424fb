package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
)

func rowMessage(t *testing.T, runID string, ts time.Time, close float64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"run_id":           runID,
		"ts":               ts.Unix(),
		"close":            close,
		"mean":             101.0,
		"std":              0.8165,
		"zscore":           1.2247,
		"scored":           true,
		"position":         1,
		"prev_position":    0,
		"price_change_pct": 0.0396,
		"trades":           1.0,
		"pnl":              0.0,
		"cumulative_pnl":   0.0,
		"running_peak":     0.0,
		"drawdown":         0.0,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestRowsConsumerHandlePersistsRow(t *testing.T) {
	store := newFakeStore()
	metrics := newFakeMetrics()
	h := NewRowsConsumerHandler("zwatch.backtest.rows", store, metrics, 1, time.Minute)

	if h.Topic() != "zwatch.backtest.rows" {
		t.Fatalf("topic = %s", h.Topic())
	}

	ts := time.Date(2024, 10, 1, 3, 0, 0, 0, time.UTC)
	if err := h.Handle(context.Background(), rowMessage(t, "run-1", ts, 105.0)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rows, err := store.GetRows(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if !r.Timestamp.Equal(ts) {
		t.Fatalf("ts = %s, want %s", r.Timestamp, ts)
	}
	if r.Close != 105.0 || r.Mean != 101.0 || !r.Scored {
		t.Fatalf("row fields: %+v", r)
	}
	if r.Position != models.PositionLong || r.PrevPosition != models.PositionFlat {
		t.Fatalf("positions: %d %d", r.Position, r.PrevPosition)
	}
	if r.Trades != 1.0 {
		t.Fatalf("trades = %v", r.Trades)
	}
}

func TestRowsConsumerBatchesUntilFull(t *testing.T) {
	store := newFakeStore()
	metrics := newFakeMetrics()
	h := NewRowsConsumerHandler("zwatch.backtest.rows", store, metrics, 3, time.Minute)

	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), rowMessage(t, "run-1", base.Add(time.Duration(i)*time.Hour), 100)); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if rows, _ := store.GetRows(context.Background(), "run-1"); len(rows) != 0 {
		t.Fatalf("stored %d rows before the batch filled", len(rows))
	}

	if err := h.Handle(context.Background(), rowMessage(t, "run-1", base.Add(2*time.Hour), 100)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rows, err := store.GetRows(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 after the batch filled", len(rows))
	}
}

func TestRowsConsumerFlushDrainsBuffer(t *testing.T) {
	store := newFakeStore()
	metrics := newFakeMetrics()
	h := NewRowsConsumerHandler("zwatch.backtest.rows", store, metrics, 100, time.Minute)

	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	_ = h.Handle(context.Background(), rowMessage(t, "run-a", base, 100))
	_ = h.Handle(context.Background(), rowMessage(t, "run-b", base, 200))

	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rows, _ := store.GetRows(context.Background(), "run-a"); len(rows) != 1 {
		t.Fatalf("run-a rows = %d, want 1", len(rows))
	}
	if rows, _ := store.GetRows(context.Background(), "run-b"); len(rows) != 1 {
		t.Fatalf("run-b rows = %d, want 1", len(rows))
	}
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
}

func TestRowsConsumerKeepsRowsOnStoreFailure(t *testing.T) {
	store := newFakeStore()
	metrics := newFakeMetrics()
	h := NewRowsConsumerHandler("zwatch.backtest.rows", store, metrics, 1, time.Minute)

	store.rowsErr = errors.New("clickhouse down")
	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	if err := h.Handle(context.Background(), rowMessage(t, "run-1", base, 100)); err == nil {
		t.Fatalf("store failure not surfaced")
	}
	if metrics.count("error_rows_consumer_store") != 1 {
		t.Fatalf("store error not counted")
	}

	store.rowsErr = nil
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	rows, _ := store.GetRows(context.Background(), "run-1")
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 after retry", len(rows))
	}
}

func TestRowsConsumerHandleRejectsBadJSON(t *testing.T) {
	store := newFakeStore()
	metrics := newFakeMetrics()
	h := NewRowsConsumerHandler("zwatch.backtest.rows", store, metrics, 1, time.Minute)

	if err := h.Handle(context.Background(), []byte("{not json")); err == nil {
		t.Fatalf("bad payload accepted")
	}
	if metrics.count("error_rows_consumer_unmarshal") != 1 {
		t.Fatalf("unmarshal error not counted")
	}
}
