package usecase

import (
	"context"

	"ZWatch/internal/domain/models"
	applogger "ZWatch/pkg/logger"
	"ZWatch/pkg/queue"
)

// BacktestJobType is the queue message type for async backtest runs.
const BacktestJobType = "backtest.run"

// BacktestJobPayload is the queued async backtest request. The run ID is
// reserved at enqueue time so the caller can poll it immediately.
type BacktestJobPayload struct {
	RunID   string                 `json:"run_id"`
	Request models.BacktestRequest `json:"request"`
}

// BacktestJob executes queued backtest requests on the queue workers. A
// failed attempt stores a failed version of the run; a later retry that
// succeeds stores a done version on top of it.
type BacktestJob struct {
	backtest *BacktestUseCase
	log      *applogger.Logger
}

func NewBacktestJob(backtest *BacktestUseCase, log *applogger.Logger) *BacktestJob {
	return &BacktestJob{backtest: backtest, log: log}
}

func (j *BacktestJob) Name() string { return "backtest_runner" }

func (j *BacktestJob) Type() string { return BacktestJobType }

func (j *BacktestJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[BacktestJobPayload](payload)
	if err != nil {
		return err
	}
	if _, err := j.backtest.RunWithID(ctx, p.RunID, &p.Request); err != nil {
		j.log.Warn("queued backtest failed",
			applogger.String("run_id", p.RunID),
			applogger.String("symbol", p.Request.Symbol),
			applogger.Error(err))
		j.backtest.MarkFailed(ctx, p.RunID, &p.Request, err)
		return err
	}
	return nil
}

var _ queue.Job = (*BacktestJob)(nil)
