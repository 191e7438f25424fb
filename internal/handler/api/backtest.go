package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	models "ZWatch/internal/domain/models"
	domsvc "ZWatch/internal/domain/service"
	"ZWatch/internal/service/metrics"
	"ZWatch/internal/service/ratelimit"
	"ZWatch/internal/usecase"
	xhttp "ZWatch/pkg/http"
	xlogger "ZWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// BacktestHandler exposes backtest runs, reports, and parameter sweeps over Echo.
type BacktestHandler struct {
	logger   *xlogger.Logger
	backtest *usecase.BacktestUseCase
	sweep    *usecase.SweepUseCase
	rl       *ratelimit.Limiter
}

// NewBacktestHandler builds the handler and registers its Prometheus series.
// Sweeps are rate limited per client IP because a single request fans out into
// hundreds of simulations.
func NewBacktestHandler(
	logger *xlogger.Logger,
	backtest *usecase.BacktestUseCase,
	sweep *usecase.SweepUseCase,
	sweepRPS, sweepBurst float64,
) *BacktestHandler {
	metrics.Register()
	if sweepRPS <= 0 {
		sweepRPS = 1
	}
	if sweepBurst <= 0 {
		sweepBurst = 3
	}
	return &BacktestHandler{
		logger:   logger,
		backtest: backtest,
		sweep:    sweep,
		rl:       ratelimit.New(sweepRPS, sweepBurst),
	}
}

func (h *BacktestHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/backtest", h.Run)
	g.POST("/backtest/async", h.RunAsync)
	g.POST("/backtest/sweep", h.Sweep)
	g.GET("/backtest/:id", h.GetRun)
	g.GET("/backtest/:id/report", h.Report)
}

// Run executes a synchronous backtest and returns the stored run record,
// optionally with the simulated rows when include_rows is set.
func (h *BacktestHandler) Run(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("backtest").Observe(time.Since(start).Seconds()) }()

	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.backtest.Run(c.Request().Context(), req)
	if err != nil {
		metrics.APIErrors.WithLabelValues("backtest").Inc()
		h.logger.Error("backtest usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

// RunAsync queues a backtest and returns the run ID to poll.
func (h *BacktestHandler) RunAsync(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("backtest_async").Observe(time.Since(start).Seconds()) }()

	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	runID, err := h.backtest.Enqueue(c.Request().Context(), req)
	if err != nil {
		metrics.APIErrors.WithLabelValues("backtest_async").Inc()
		h.logger.Error("enqueue backtest error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]string{"run_id": runID})
}

// Sweep evaluates a window/entry/exit grid and returns the ranked outcomes.
func (h *BacktestHandler) Sweep(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("sweep").Observe(time.Since(start).Seconds()) }()

	if !h.rl.Allow(c.RealIP()) {
		metrics.APIErrors.WithLabelValues("sweep").Inc()
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("sweep rate limit exceeded, retry later"))
	}

	req := &models.SweepRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	out, err := h.sweep.Run(c.Request().Context(), req)
	if err != nil {
		metrics.APIErrors.WithLabelValues("sweep").Inc()
		h.logger.Error("sweep usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.SuccessResponse(c, out)
}

// GetRun returns the latest stored version of a run by ID.
func (h *BacktestHandler) GetRun(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("backtest_get").Observe(time.Since(start).Seconds()) }()

	id := c.Param("id")
	run, err := h.backtest.GetRun(c.Request().Context(), id)
	if err != nil {
		metrics.APIErrors.WithLabelValues("backtest_get").Inc()
		h.logger.Error("get run error", xlogger.String("run_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.SuccessResponse(c, run)
}

// Report streams the per-bar CSV report for a stored run.
func (h *BacktestHandler) Report(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("backtest_report").Observe(time.Since(start).Seconds()) }()

	id := c.Param("id")
	b, err := h.backtest.ReportCSV(c.Request().Context(), id)
	if err != nil {
		metrics.APIErrors.WithLabelValues("backtest_report").Inc()
		h.logger.Error("render report error", xlogger.String("run_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "backtest_"+id+".csv"))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", b)
}

// apiError maps domain and usecase sentinels onto AppErrors so the response
// layer reports the right status code. Unmapped errors render as 500s.
func apiError(err error) error {
	switch {
	case errors.Is(err, domsvc.ErrDataUnavailable):
		return xhttp.UnavailableError(err.Error()).WithError(err)
	case errors.Is(err, sql.ErrNoRows):
		return xhttp.NotFoundError("backtest run not found").WithError(err)
	case errors.Is(err, usecase.ErrNoRowsStored):
		return xhttp.NotFoundError("no stored rows for this run").WithError(err)
	case errors.Is(err, usecase.ErrGridTooLarge):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrQueueDisabled):
		return xhttp.UnavailableError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrMonitorRunning), errors.Is(err, usecase.ErrMonitorNotRunning):
		return xhttp.ConflictError(err.Error()).WithError(err)
	}
	return err
}
