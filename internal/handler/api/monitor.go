package api

import (
	"context"
	"net/http"
	"time"

	models "ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
	"ZWatch/internal/service/metrics"
	"ZWatch/internal/usecase"
	xhttp "ZWatch/pkg/http"
	xlogger "ZWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// MonitorHandler drives the live signal monitor over Echo and serves the
// process health endpoint.
type MonitorHandler struct {
	logger  *xlogger.Logger
	monitor *usecase.MonitorUseCase
	store   domrepo.RunStore // nil when persistence is disabled
}

func NewMonitorHandler(logger *xlogger.Logger, monitor *usecase.MonitorUseCase, store domrepo.RunStore) *MonitorHandler {
	metrics.Register()
	return &MonitorHandler{logger: logger, monitor: monitor, store: store}
}

func (h *MonitorHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/monitor")
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.GET("/status", h.Status)
}

// Start begins live monitoring for one symbol. A second start while running
// returns a conflict.
func (h *MonitorHandler) Start(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("monitor_start").Observe(time.Since(start).Seconds()) }()

	req := &models.MonitorStartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.monitor.Start(c.Request().Context(), req); err != nil {
		metrics.APIErrors.WithLabelValues("monitor_start").Inc()
		h.logger.Error("monitor start error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.SuccessResponse(c, h.monitor.Status())
}

// Stop halts monitoring and discards live state.
func (h *MonitorHandler) Stop(c echo.Context) error {
	if err := h.monitor.Stop(); err != nil {
		metrics.APIErrors.WithLabelValues("monitor_stop").Inc()
		h.logger.Error("monitor stop error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.SuccessResponse(c, h.monitor.Status())
}

// Status reports the current monitoring session snapshot.
func (h *MonitorHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.monitor.Status())
}

// Health reports liveness plus dependency checks. Degraded dependencies turn
// the response into a 503 so load balancers can rotate the instance out.
func (h *MonitorHandler) Health(c echo.Context) error {
	code := http.StatusOK
	checks := map[string]string{"api": "ok"}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Health(ctx); err != nil {
			checks["clickhouse"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			checks["clickhouse"] = "ok"
		}
	}

	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	return c.JSON(code, map[string]interface{}{
		"status":          status,
		"checks":          checks,
		"monitor_running": h.monitor.Status().Running,
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}
