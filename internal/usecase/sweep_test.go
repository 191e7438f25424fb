package usecase

import (
	"context"
	"math"
	"sort"
	"testing"

	"ZWatch/internal/domain/models"
)

func sweepRequest() *models.SweepRequest {
	return &models.SweepRequest{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Windows:  []int{2, 3},
		Entries:  []float64{1.0},
		Exits:    []float64{-1.0},
		Logic:    "trend",
		Side:     "both",
		Days:     2,
		Top:      10,
	}
}

func TestSweepEvaluatesGridAndRanks(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", demoBars())
	sw := NewSweepUseCase(fx.uc, 2, 100)

	out, err := sw.Run(context.Background(), sweepRequest())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if out.Evaluated != 2 {
		t.Fatalf("evaluated = %d, want 2", out.Evaluated)
	}
	if len(out.Best) != 2 {
		t.Fatalf("best = %d, want 2", len(out.Best))
	}
	if out.Bars != len(demoBars()) {
		t.Fatalf("bars = %d", out.Bars)
	}
	// ranked best-first: a NaN Sharpe may not precede a real one, and real
	// values must be non-increasing
	for i := 1; i < len(out.Best); i++ {
		prev, cur := out.Best[i-1].Metrics.Sharpe, out.Best[i].Metrics.Sharpe
		if prev.IsNaN() && !cur.IsNaN() {
			t.Fatalf("NaN Sharpe ranked before %v", cur)
		}
		if !prev.IsNaN() && !cur.IsNaN() && float64(cur) > float64(prev) {
			t.Fatalf("ranking not descending: %v then %v", prev, cur)
		}
	}
	// both grid points ran with distinct windows
	windows := []int{out.Best[0].Params.Window, out.Best[1].Params.Window}
	sort.Ints(windows)
	if windows[0] != 2 || windows[1] != 3 {
		t.Fatalf("windows evaluated = %v", windows)
	}
	// nothing persisted during a sweep
	if fx.store.saveRuns != 0 {
		t.Fatalf("sweep stored %d runs", fx.store.saveRuns)
	}
}

func TestSweepTopLimitsResults(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", demoBars())
	sw := NewSweepUseCase(fx.uc, 4, 100)
	req := sweepRequest()
	req.Top = 1

	out, err := sw.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(out.Best) != 1 {
		t.Fatalf("best = %d, want 1", len(out.Best))
	}
	if out.Evaluated != 2 {
		t.Fatalf("evaluated = %d, want 2", out.Evaluated)
	}
}

func TestSweepRejectsOversizedGrid(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", demoBars())
	sw := NewSweepUseCase(fx.uc, 2, 1)

	if _, err := sw.Run(context.Background(), sweepRequest()); err == nil {
		t.Fatalf("expected grid-size error")
	}
}

func TestSweepRejectsEmptyGrid(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", demoBars())
	sw := NewSweepUseCase(fx.uc, 2, 100)
	req := sweepRequest()
	req.Windows = nil

	if _, err := sw.Run(context.Background(), req); err == nil {
		t.Fatalf("expected empty-grid error")
	}
}

func TestRankLessOrdersNaNLast(t *testing.T) {
	nan := models.Ratio(math.NaN())
	cells := []SweepCell{
		{Params: models.StrategyParams{Window: 5}, Metrics: models.Metrics{Sharpe: nan, Calmar: nan}},
		{Params: models.StrategyParams{Window: 3}, Metrics: models.Metrics{Sharpe: 1.0, Calmar: 0.5}},
		{Params: models.StrategyParams{Window: 4}, Metrics: models.Metrics{Sharpe: 2.0, Calmar: nan}},
		{Params: models.StrategyParams{Window: 2}, Metrics: models.Metrics{Sharpe: 1.0, Calmar: 0.9}},
	}
	sort.Slice(cells, func(i, j int) bool { return rankLess(cells[i], cells[j]) })

	gotWindows := []int{cells[0].Params.Window, cells[1].Params.Window, cells[2].Params.Window, cells[3].Params.Window}
	// 2.0 first, then the 1.0 pair by Calmar 0.9 > 0.5, NaN last
	want := []int{4, 2, 3, 5}
	for i := range want {
		if gotWindows[i] != want[i] {
			t.Fatalf("rank order windows = %v, want %v", gotWindows, want)
		}
	}
}
