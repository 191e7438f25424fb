package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
	"ZWatch/internal/services/engine"
	"ZWatch/internal/services/report"
	pkgcache "ZWatch/pkg/cache"
	applogger "ZWatch/pkg/logger"
	"ZWatch/pkg/queue"
)

var (
	// ErrNoRowsStored means the run exists but no simulated rows were
	// persisted for it, so a CSV report cannot be rendered.
	ErrNoRowsStored = errors.New("no rows stored for run")

	// ErrQueueDisabled rejects async runs when no queue backend is wired.
	ErrQueueDisabled = errors.New("async runs disabled: no queue configured")
)

// BacktestUseCase runs the full backtest pipeline: fetch bars, score,
// generate signals, simulate, summarize, evaluate, then persist the run and
// its rows through the configured backend.
type BacktestUseCase struct {
	series     *SeriesUseCase
	store      domrepo.RunStore
	rows       *RowProcessor
	metrics    domrepo.Metrics
	log        *applogger.Logger
	crit       engine.Criteria
	annualizer float64 // 0 means derive from the interval
	reportTTL  time.Duration
	queue      queue.Enqueuer // nil when async runs are disabled
	now        func() time.Time
}

// BacktestResult carries the stored run record plus the simulated rows for
// callers that asked for them.
type BacktestResult struct {
	Run  *models.BacktestRun   `json:"run"`
	Rows []models.SimulatedBar `json:"rows,omitempty"`
}

func NewBacktestUseCase(
	series *SeriesUseCase,
	store domrepo.RunStore,
	rows *RowProcessor,
	metrics domrepo.Metrics,
	log *applogger.Logger,
	crit engine.Criteria,
	annualizer float64,
	reportTTL time.Duration,
) *BacktestUseCase {
	if reportTTL <= 0 {
		reportTTL = 10 * time.Minute
	}
	return &BacktestUseCase{
		series:     series,
		store:      store,
		rows:       rows,
		metrics:    metrics,
		log:        log,
		crit:       crit,
		annualizer: annualizer,
		reportTTL:  reportTTL,
		now:        time.Now,
	}
}

// WithQueue enables async runs through the given queue publisher.
func (uc *BacktestUseCase) WithQueue(q queue.Enqueuer) *BacktestUseCase {
	uc.queue = q
	return uc
}

// Enqueue reserves a run ID, stores a queued placeholder, and hands the
// request to the queue workers. The caller polls the run ID for the result.
func (uc *BacktestUseCase) Enqueue(ctx context.Context, req *models.BacktestRequest) (string, error) {
	if uc.queue == nil {
		return "", ErrQueueDisabled
	}
	runID := uuid.NewString()
	if err := uc.MarkQueued(ctx, runID, req); err != nil {
		uc.metrics.RecordError("save_run")
		uc.log.Warn("queued placeholder not stored", applogger.String("run_id", runID), applogger.Error(err))
	}
	if err := uc.queue.PublishMessage(ctx, BacktestJobType, BacktestJobPayload{RunID: runID, Request: *req}); err != nil {
		return "", fmt.Errorf("enqueue backtest: %w", err)
	}
	return runID, nil
}

// Run executes a backtest for the request and persists the outcome under a
// fresh run ID.
func (uc *BacktestUseCase) Run(ctx context.Context, req *models.BacktestRequest) (*BacktestResult, error) {
	return uc.RunWithID(ctx, uuid.NewString(), req)
}

// RunWithID executes a backtest under a caller-chosen run ID. Queued runs
// reserve their ID before the worker picks them up.
func (uc *BacktestUseCase) RunWithID(ctx context.Context, runID string, req *models.BacktestRequest) (*BacktestResult, error) {
	start := time.Now()
	params := req.Params()
	iv := models.NormalizeInterval(req.Interval)
	params.Interval = string(iv)

	from, to, err := ResolveRange(req.From, req.To, req.Days, iv, uc.now().UTC())
	if err != nil {
		uc.metrics.RecordBacktest("invalid", time.Since(start).Seconds())
		return nil, err
	}

	bars, err := uc.series.Fetch(ctx, params.Symbol, iv, from, to)
	if err != nil {
		uc.metrics.RecordBacktest("failed", time.Since(start).Seconds())
		return nil, err
	}

	rows := uc.compute(bars, params)
	m := engine.Summarize(rows, params.Window, uc.annualizerFor(iv))
	verdict := engine.Evaluate(m, uc.crit)

	run := &models.BacktestRun{
		ID:        runID,
		Params:    params,
		Status:    models.RunDone,
		Metrics:   m,
		Verdict:   verdict,
		Bars:      len(rows),
		CreatedAt: uc.now().UTC(),
	}
	if len(rows) > 0 {
		run.StartTime = rows[0].Timestamp
		run.EndTime = rows[len(rows)-1].Timestamp
	}

	uc.persist(ctx, run, rows)
	uc.metrics.RecordBacktest("ok", time.Since(start).Seconds())
	uc.log.Info("backtest finished",
		applogger.String("run_id", run.ID),
		applogger.String("symbol", params.Symbol),
		applogger.Int("bars", run.Bars),
		applogger.Float64("sharpe", float64(m.Sharpe)),
		applogger.Bool("recommended", verdict.Recommended))

	res := &BacktestResult{Run: run}
	if req.IncludeRows {
		res.Rows = rows
	}
	return res, nil
}

// compute runs the pure engine stages over a bar series.
func (uc *BacktestUseCase) compute(bars []models.Bar, params models.StrategyParams) []models.SimulatedBar {
	scored := engine.Score(bars, params.Window)
	positioned := engine.GenerateSignals(scored, engine.FromParams(params))
	return engine.Simulate(positioned)
}

func (uc *BacktestUseCase) annualizerFor(iv models.Interval) float64 {
	if uc.annualizer > 0 {
		return uc.annualizer
	}
	return iv.BarsPerYear()
}

// persist writes the run record and dispatches rows. Persistence failure is
// logged and counted but does not fail the request: the computed result is
// still returned to the caller.
func (uc *BacktestUseCase) persist(ctx context.Context, run *models.BacktestRun, rows []models.SimulatedBar) {
	if err := uc.store.SaveRun(ctx, run); err != nil {
		uc.metrics.RecordError("save_run")
		uc.log.Error("save run failed", applogger.String("run_id", run.ID), applogger.Error(err))
		return
	}
	// A redelivered job can rerun an ID whose report was already rendered.
	// The new rows make that report stale.
	if uc.series.cache != nil {
		_ = uc.series.cache.DeleteBytes(reportKey(run.ID))
	}
	if err := uc.rows.Dispatch(ctx, run.ID, rows); err != nil {
		uc.log.Error("dispatch rows failed", applogger.String("run_id", run.ID), applogger.Error(err))
	}
}

// MarkQueued stores a placeholder record so the run ID resolves while the
// job waits for a worker.
func (uc *BacktestUseCase) MarkQueued(ctx context.Context, runID string, req *models.BacktestRequest) error {
	run := &models.BacktestRun{
		ID:        runID,
		Params:    req.Params(),
		Status:    models.RunQueued,
		Metrics:   engine.EmptyMetrics(),
		CreatedAt: uc.now().UTC(),
	}
	return uc.store.SaveRun(ctx, run)
}

// MarkFailed records a failed queued run.
func (uc *BacktestUseCase) MarkFailed(ctx context.Context, runID string, req *models.BacktestRequest, cause error) {
	run := &models.BacktestRun{
		ID:        runID,
		Params:    req.Params(),
		Status:    models.RunFailed,
		Metrics:   engine.EmptyMetrics(),
		CreatedAt: uc.now().UTC(),
		Error:     cause.Error(),
	}
	if err := uc.store.SaveRun(ctx, run); err != nil {
		uc.log.Error("mark failed run", applogger.String("run_id", runID), applogger.Error(err))
	}
}

// GetRun resolves the latest stored version of a run.
func (uc *BacktestUseCase) GetRun(ctx context.Context, id string) (*models.BacktestRun, error) {
	if id == "" {
		return nil, fmt.Errorf("run id required")
	}
	return uc.store.GetRun(ctx, id)
}

// GetRows returns the stored per-bar rows of a run in time order.
func (uc *BacktestUseCase) GetRows(ctx context.Context, id string) ([]models.SimulatedBar, error) {
	if id == "" {
		return nil, fmt.Errorf("run id required")
	}
	return uc.store.GetRows(ctx, id)
}

func reportKey(id string) string {
	return pkgcache.GenerateKey("report", id)
}

// ReportCSV renders the per-bar report for a run, caching the rendered
// bytes so repeated downloads skip the row query.
func (uc *BacktestUseCase) ReportCSV(ctx context.Context, id string) ([]byte, error) {
	key := reportKey(id)
	if uc.series.cache != nil {
		if b, ok, err := uc.series.cache.GetBytes(key); err == nil && ok {
			return b, nil
		}
	}
	rows, err := uc.GetRows(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoRowsStored, id)
	}
	b, err := report.RenderCSV(rows)
	if err != nil {
		return nil, err
	}
	if uc.series.cache != nil {
		_ = uc.series.cache.SetBytes(key, b, uc.reportTTL)
	}
	return b, nil
}
