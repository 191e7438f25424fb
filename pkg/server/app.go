package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "ZWatch/internal/domain/repository"
	"ZWatch/internal/usecase"
	pkgch "ZWatch/pkg/clickhouse"
	"ZWatch/pkg/config"
	xhttp "ZWatch/pkg/http"
	pkgkafka "ZWatch/pkg/kafka"
	applogger "ZWatch/pkg/logger"
	pkgqueue "ZWatch/pkg/queue"
)

// App owns the lifecycle of every long-running component: the HTTP API, the
// tick collector, the queue workers, and the optional Kafka rows consumer.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	handler     xhttp.Handler
	collector   *usecase.TickCollector
	consumer    *pkgkafka.Consumer // nil unless the kafka backend is active
	rowsHandler *usecase.RowsConsumerHandler
	queue       *pkgqueue.RedisQueue // nil when async runs are disabled
	monitor     *usecase.MonitorUseCase
	rows        *usecase.RowProcessor
	store       domrepo.RunStore
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
}

// New creates the application from its wired dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	handler xhttp.Handler,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	rowsHandler *usecase.RowsConsumerHandler,
	queue *pkgqueue.RedisQueue,
	monitor *usecase.MonitorUseCase,
	rows *usecase.RowProcessor,
	store domrepo.RunStore,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		handler:     handler,
		collector:   collector,
		consumer:    consumer,
		rowsHandler: rowsHandler,
		queue:       queue,
		monitor:     monitor,
		rows:        rows,
		store:       store,
		chClient:    chClient,
	}
}

// Run starts all components and blocks until interrupted. The live monitor is
// not started here: it is driven through the API.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure storage schema. Persistence degrades to log-and-continue when
	// ClickHouse is unreachable, the API keeps serving computed results.
	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.store.Init(initCtx); err != nil {
		a.log.Warn("run store init failed, persistence degraded", applogger.Error(err))
	}
	initCancel()

	// Queue workers must run before the API accepts async backtests.
	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			a.log.Warn("queue start failed, async runs unavailable", applogger.Error(err))
		}
	}

	// The rows consumer sinks published rows into ClickHouse when the kafka
	// backend is active.
	if a.consumer != nil && a.rowsHandler != nil {
		a.consumer.RegisterHandler(a.rowsHandler)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka rows consumer started", applogger.String("topic", a.rowsHandler.Topic()))
	}

	// Tick collector feeds live exchange prices into the monitor. Without a
	// stream URL live prices come from closed-bar polling only.
	if a.cfg.MarketData.WebSocketURL != "" {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("tick collector error", applogger.Error(err))
			}
		}()
		a.log.Info("tick collector started", applogger.Strings("symbols", a.cfg.MarketData.Symbols))
	} else {
		a.log.Info("tick stream disabled")
	}

	serverOpts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsEndpoint(a.cfg.Metrics.Enabled, a.cfg.Metrics.Path),
		xhttp.WithCORS(a.cfg.Server.CORS),
	}
	if a.cfg.Server.Host != "" {
		serverOpts = append(serverOpts, xhttp.WithHost(a.cfg.Server.Host))
	}
	a.httpServer = xhttp.NewServer(a.handler, serverOpts...)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("api listening", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops components in dependency order: traffic sources first, then
// sinks, then shared clients.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.monitor.Stop(); err != nil && !errors.Is(err, usecase.ErrMonitorNotRunning) {
		a.log.Warn("monitor stop error", applogger.Error(err))
	}

	if err := a.collector.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("tick collector stop error", applogger.Error(err))
	}

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.rowsHandler != nil {
		if err := a.rowsHandler.Flush(shutdownCtx); err != nil {
			a.log.Warn("rows flush error", applogger.Error(err))
		}
	}

	// The log collector flushes its last batch through the Kafka producer,
	// so it must drain before the row processor closes the producer.
	a.log.RemoveCollector()
	a.rows.Close()

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
