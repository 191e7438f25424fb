package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	segkafka "github.com/segmentio/kafka-go"

	domrepo "ZWatch/internal/domain/repository"
	domsvc "ZWatch/internal/domain/service"
	"ZWatch/internal/handler/api"
	mid "ZWatch/internal/middleware"
	internalrepo "ZWatch/internal/repository"
	"ZWatch/internal/service/cache"
	"ZWatch/internal/service/marketdata"
	"ZWatch/internal/service/notify"
	"ZWatch/internal/services/engine"
	"ZWatch/internal/usecase"
	pkgcache "ZWatch/pkg/cache"
	pkgch "ZWatch/pkg/clickhouse"
	"ZWatch/pkg/config"
	xhttp "ZWatch/pkg/http"
	pkgkafka "ZWatch/pkg/kafka"
	applogger "ZWatch/pkg/logger"
	"ZWatch/pkg/metrics"
	pkgqueue "ZWatch/pkg/queue"
	"ZWatch/pkg/server"
)

// logPublisher adapts the Kafka producer to the log collector's publisher
// interface so aggregated error logs ship to their own topic.
type logPublisher struct {
	producer *pkgkafka.Producer
}

func (p logPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideLogger builds the application logger, optionally attaching the
// Kafka-backed error log collector.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	lgr, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if cfg.Logging.Collector.Enabled {
		lgr.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.CountThreshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      logPublisher{producer: producer},
		})
	}
	return lgr, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates the ClickHouse client. Schema creation runs
// at app startup so a cold database does not block construction.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithCompression(cfg.ClickHouse.Compression),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates the Kafka producer shared by the row
// publisher, the signal event publisher, and the log collector.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRunStore creates the ClickHouse-backed run store.
func ProvideRunStore(chClient *pkgch.Client, cfg *config.Config) domrepo.RunStore {
	return internalrepo.NewClickHouseRunStore(chClient, cfg.ClickHouse.Database)
}

// ProvideEventPublisher creates the Kafka publisher for rows and signal events.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.EventPublisher {
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.RowsTopic, cfg.Kafka.EventsTopic)
}

// ProvideRowProcessor creates the backend dispatcher for simulated rows.
func ProvideRowProcessor(
	pub domrepo.EventPublisher,
	store domrepo.RunStore,
	met domrepo.Metrics,
	cfg *config.Config,
) *usecase.RowProcessor {
	return usecase.NewRowProcessor(pub, store, met, cfg.Backend.Type)
}

// ProvideHTTPClient creates the outbound HTTP client shared by the exchange
// client and the webhook notifier.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.MarketData.RequestTimeout))
}

// ProvideMarketData creates the exchange REST client.
func ProvideMarketData(hc *xhttp.Client, cfg *config.Config) domsvc.MarketData {
	return marketdata.New(hc, cfg.MarketData.BaseURL,
		marketdata.WithPageLimit(cfg.MarketData.PageLimit),
		marketdata.WithRetry(cfg.MarketData.RetryMax, cfg.MarketData.RetryBackoff),
		marketdata.WithAPIKey(cfg.MarketData.APIKey),
	)
}

// ProvideTickStream creates the exchange WebSocket tick stream.
func ProvideTickStream(cfg *config.Config) domsvc.TickStream {
	return marketdata.NewStream(
		cfg.MarketData.APIKey,
		cfg.MarketData.WebSocketURL,
		cfg.MarketData.Symbols,
		cfg.MarketData.ReconnectDelay,
		cfg.MarketData.PingInterval,
	)
}

// ProvideNotifier creates the webhook notifier for live signal changes. A
// configured timeout gives notifications their own client so they are not
// bound to the market data request timeout.
func ProvideNotifier(hc *xhttp.Client, lgr *applogger.Logger, cfg *config.Config) domsvc.Notifier {
	if cfg.Notifier.Timeout > 0 {
		hc = xhttp.NewClient(xhttp.WithTimeout(cfg.Notifier.Timeout))
	}
	return notify.NewWebhook(hc, cfg.Notifier.WebhookURL, lgr)
}

// ProvideBytesCache picks the cache backend for bar series and CSV
// reports: Redis (optionally fronted by an in-process layer) when enabled,
// an LRU-bounded memory cache otherwise.
func ProvideBytesCache(cfg *config.Config) (cache.BytesCache, error) {
	useRedis := cfg.Redis.Enabled && (cfg.Cache.Mode == "redis" || cfg.Cache.Mode == "layered")
	if !useRedis {
		var memOpts []pkgcache.MemoryOption
		if cfg.Cache.MaxEntries > 0 {
			memOpts = append(memOpts, pkgcache.WithMemoryMaxSize(cfg.Cache.MaxEntries))
		}
		return cache.NewServiceCache(pkgcache.NewMemoryCache(memOpts...)), nil
	}

	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr %q: %w", cfg.Redis.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis addr %q: %w", cfg.Redis.Addr, err)
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix("zwatch:cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Cache.Mode == "layered" {
		var layerOpts []pkgcache.LayeredOption
		if cfg.Cache.MaxEntries > 0 {
			layerOpts = append(layerOpts, pkgcache.WithLayeredMemorySize(cfg.Cache.MaxEntries))
		}
		return cache.NewServiceCache(pkgcache.NewLayeredCache(rc, layerOpts...)), nil
	}
	return cache.NewServiceCache(rc), nil
}

// ProvideSeriesUseCase creates the cached bar series fetcher.
func ProvideSeriesUseCase(
	market domsvc.MarketData,
	c cache.BytesCache,
	met domrepo.Metrics,
	cfg *config.Config,
) *usecase.SeriesUseCase {
	return usecase.NewSeriesUseCase(market, c, met, cfg.Cache.SeriesTTL, cfg.Backtest.MaxBars)
}

// ProvideQueue creates the Redis work queue for async backtests, or nil when
// the queue or Redis is disabled.
func ProvideQueue(cfg *config.Config, lgr *applogger.Logger, met domrepo.Metrics) *pkgqueue.RedisQueue {
	if !cfg.Queue.Enabled || !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	opts := []pkgqueue.RedisQueueOption{
		pkgqueue.WithObserver(func(job string, attempt int, elapsed time.Duration, err error) {
			met.RecordLatency("queue_"+job, elapsed.Seconds())
			if err != nil {
				met.RecordError("queue_" + job)
			}
		}),
	}
	if cfg.Queue.Name != "" {
		opts = append(opts, pkgqueue.WithKeyPrefix("zwatch:"+cfg.Queue.Name))
	}
	return pkgqueue.NewRedisQueue(lgr, &pkgqueue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	}, client, opts...)
}

// criteriaFromConfig maps configured thresholds onto evaluation criteria,
// falling back to the defaults when the section is left zeroed.
func criteriaFromConfig(cfg *config.Config) engine.Criteria {
	c := cfg.Backtest.Criteria
	if c.MinSharpe == 0 && c.MinCalmar == 0 && c.MaxDrawdownFloor == 0 && c.MinTrades == 0 {
		return engine.DefaultCriteria()
	}
	return engine.Criteria{
		MinSharpe:        c.MinSharpe,
		MinCalmar:        c.MinCalmar,
		MaxDrawdownFloor: c.MaxDrawdownFloor,
		MinTrades:        c.MinTrades,
	}
}

// ProvideBacktestUseCase creates the backtest pipeline use case.
func ProvideBacktestUseCase(
	series *usecase.SeriesUseCase,
	store domrepo.RunStore,
	rows *usecase.RowProcessor,
	met domrepo.Metrics,
	lgr *applogger.Logger,
	q *pkgqueue.RedisQueue,
	cfg *config.Config,
) *usecase.BacktestUseCase {
	bt := usecase.NewBacktestUseCase(series, store, rows, met, lgr,
		criteriaFromConfig(cfg), cfg.Backtest.Annualizer, cfg.Cache.ReportTTL)
	if q != nil {
		bt = bt.WithQueue(q)
	}
	return bt
}

// ProvideSweepUseCase creates the parameter sweep use case.
func ProvideSweepUseCase(bt *usecase.BacktestUseCase, cfg *config.Config) *usecase.SweepUseCase {
	return usecase.NewSweepUseCase(bt, cfg.Backtest.Sweep.Workers, cfg.Backtest.Sweep.MaxGrid)
}

// ProvideMonitorUseCase creates the live monitor use case.
func ProvideMonitorUseCase(
	market domsvc.MarketData,
	notifier domsvc.Notifier,
	pub domrepo.EventPublisher,
	met domrepo.Metrics,
	lgr *applogger.Logger,
	cfg *config.Config,
) *usecase.MonitorUseCase {
	return usecase.NewMonitorUseCase(market, notifier, pub, met, lgr, cfg.Monitor.PollInterval)
}

// ProvideTickCollector creates the WebSocket tick collector with the
// validation/throttle pipeline between the stream and the monitor.
func ProvideTickCollector(
	stream domsvc.TickStream,
	monitor *usecase.MonitorUseCase,
	met domrepo.Metrics,
	cfg *config.Config,
) *usecase.TickCollector {
	pipe := mid.NewTickPipeline(monitor, met,
		mid.WithMaxRPS(cfg.MarketData.TickRPS),
		mid.WithBufferSize(cfg.MarketData.TickBuffer),
	)
	return usecase.NewTickCollector(stream, pipe, met)
}

// ProvideRowsHandler creates the Kafka handler that sinks published rows
// into ClickHouse.
func ProvideRowsHandler(store domrepo.RunStore, met domrepo.Metrics, cfg *config.Config) *usecase.RowsConsumerHandler {
	return usecase.NewRowsConsumerHandler(cfg.Kafka.RowsTopic, store, met,
		cfg.Backend.BatchSize, cfg.Backend.BatchTimeout)
}

// ProvideKafkaConsumer creates the rows consumer, or nil when the backend
// writes straight to ClickHouse.
func ProvideKafkaConsumer(cfg *config.Config, met domrepo.Metrics) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km segkafka.Message, data []byte) (context.Context, segkafka.Message, []byte, error) {
			return pkgkafka.WithStartTime(ctx, time.Now()), km, data, nil
		},
		After: func(ctx context.Context, topic string, km segkafka.Message, data []byte, err error) {
			if start, ok := ctx.Value(pkgkafka.CtxStartTime).(time.Time); ok {
				met.RecordLatency("consume", time.Since(start).Seconds())
			}
			if err != nil {
				met.RecordError("consume")
			}
		},
	})
	return consumer, nil
}

// ProvideHTTPHandler assembles the API routes.
func ProvideHTTPHandler(
	lgr *applogger.Logger,
	bt *usecase.BacktestUseCase,
	sw *usecase.SweepUseCase,
	monitor *usecase.MonitorUseCase,
	store domrepo.RunStore,
	cfg *config.Config,
) xhttp.Handler {
	return api.NewRouter(
		api.NewBacktestHandler(lgr, bt, sw,
			float64(cfg.Backtest.Sweep.RateRPS), float64(cfg.Backtest.Sweep.RateBurst)),
		api.NewMonitorHandler(lgr, monitor, store),
	)
}

// ProvideApp assembles the application. Queue jobs are registered here so
// async publishes are accepted from the first request on.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	handler xhttp.Handler,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	rowsHandler *usecase.RowsConsumerHandler,
	q *pkgqueue.RedisQueue,
	bt *usecase.BacktestUseCase,
	monitor *usecase.MonitorUseCase,
	rows *usecase.RowProcessor,
	store domrepo.RunStore,
	chClient *pkgch.Client,
) *server.App {
	if q != nil {
		q.RegisterJob(usecase.NewBacktestJob(bt, lgr))
	}
	return server.New(cfg, lgr, handler, collector, consumer, rowsHandler, q, monitor, rows, store, chClient)
}
