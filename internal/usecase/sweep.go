package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ZWatch/internal/domain/models"
	"ZWatch/internal/services/engine"
	applogger "ZWatch/pkg/logger"
)

// ErrGridTooLarge rejects sweeps whose combination count exceeds the
// configured ceiling.
var ErrGridTooLarge = errors.New("parameter grid too large")

// SweepUseCase evaluates a grid of strategy parameters over one shared bar
// series and ranks the outcomes. Sweep cells are compute-only: nothing is
// persisted, the caller picks a winner and runs it as a regular backtest.
type SweepUseCase struct {
	backtest *BacktestUseCase
	workers  int
	maxGrid  int
}

// SweepCell is one evaluated grid point.
type SweepCell struct {
	Params      models.StrategyParams `json:"params"`
	Metrics     models.Metrics        `json:"metrics"`
	Recommended bool                  `json:"recommended"`
}

// SweepOutcome is the ranked result of a parameter sweep.
type SweepOutcome struct {
	Symbol    string      `json:"symbol"`
	Interval  string      `json:"interval"`
	Bars      int         `json:"bars"`
	Evaluated int         `json:"evaluated"`
	Best      []SweepCell `json:"best"`
	ElapsedMs int64       `json:"elapsed_ms"`
}

func NewSweepUseCase(backtest *BacktestUseCase, workers, maxGrid int) *SweepUseCase {
	if workers <= 0 {
		workers = 4
	}
	if maxGrid <= 0 {
		maxGrid = 2000
	}
	return &SweepUseCase{backtest: backtest, workers: workers, maxGrid: maxGrid}
}

// Run fetches the series once and evaluates every window/entry/exit combination.
func (uc *SweepUseCase) Run(ctx context.Context, req *models.SweepRequest) (*SweepOutcome, error) {
	start := time.Now()
	size := len(req.Windows) * len(req.Entries) * len(req.Exits)
	if size == 0 {
		return nil, fmt.Errorf("empty parameter grid")
	}
	if size > uc.maxGrid {
		return nil, fmt.Errorf("%w: %d combinations (max %d)", ErrGridTooLarge, size, uc.maxGrid)
	}

	iv := models.NormalizeInterval(req.Interval)
	from, to, err := ResolveRange("", "", req.Days, iv, uc.backtest.now().UTC())
	if err != nil {
		return nil, err
	}
	bars, err := uc.backtest.series.Fetch(ctx, req.Symbol, iv, from, to)
	if err != nil {
		return nil, err
	}

	annualizer := uc.backtest.annualizerFor(iv)
	combos := make(chan models.StrategyParams, size)
	results := make(chan SweepCell, size)

	var wg sync.WaitGroup
	workers := uc.workers
	if workers > size {
		workers = size
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range combos {
				rows := uc.backtest.compute(bars, p)
				m := engine.Summarize(rows, p.Window, annualizer)
				v := engine.Evaluate(m, uc.backtest.crit)
				results <- SweepCell{Params: p, Metrics: m, Recommended: v.Recommended}
			}
		}()
	}

	for _, w := range req.Windows {
		for _, entry := range req.Entries {
			for _, exit := range req.Exits {
				combos <- models.StrategyParams{
					Symbol:         req.Symbol,
					Interval:       string(iv),
					Window:         w,
					EntryThreshold: entry,
					ExitThreshold:  exit,
					Logic:          models.Logic(req.Logic),
					Side:           models.Side(req.Side),
				}
			}
		}
	}
	close(combos)
	wg.Wait()
	close(results)

	cells := make([]SweepCell, 0, size)
	for c := range results {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return rankLess(cells[i], cells[j]) })

	top := req.Top
	if top <= 0 || top > len(cells) {
		top = len(cells)
	}

	uc.backtest.metrics.RecordLatency("sweep", time.Since(start).Seconds())
	uc.backtest.log.Info("sweep finished",
		applogger.String("symbol", req.Symbol),
		applogger.Int("grid", size),
		applogger.Int("bars", len(bars)),
		applogger.Duration("elapsed", time.Since(start)))

	return &SweepOutcome{
		Symbol:    req.Symbol,
		Interval:  string(iv),
		Bars:      len(bars),
		Evaluated: size,
		Best:      cells[:top],
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

// rankLess orders cells best-first: Sharpe descending with NaN last, then
// Calmar the same way, then the smaller parameters for determinism.
func rankLess(a, b SweepCell) bool {
	if c := compareRatio(a.Metrics.Sharpe, b.Metrics.Sharpe); c != 0 {
		return c > 0
	}
	if c := compareRatio(a.Metrics.Calmar, b.Metrics.Calmar); c != 0 {
		return c > 0
	}
	if a.Params.Window != b.Params.Window {
		return a.Params.Window < b.Params.Window
	}
	if a.Params.EntryThreshold != b.Params.EntryThreshold {
		return a.Params.EntryThreshold < b.Params.EntryThreshold
	}
	return a.Params.ExitThreshold < b.Params.ExitThreshold
}

// compareRatio orders descending by value with NaN ranked after any number.
// Returns >0 when a ranks before b, <0 when after, 0 when tied.
func compareRatio(a, b models.Ratio) int {
	an, bn := a.IsNaN(), b.IsNaN()
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case float64(a) > float64(b):
		return 1
	case float64(a) < float64(b):
		return -1
	}
	return 0
}
