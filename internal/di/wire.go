//go:build wireinject
// +build wireinject

package di

import (
	"ZWatch/pkg/config"
	"ZWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp builds the full object graph. The body is a wire
// declaration; `wire gen` emits the real constructor into wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideMetrics,

		// Clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideHTTPClient,
		ProvideLogger,

		// Repositories
		ProvideRunStore,
		ProvideEventPublisher,

		// Domain services
		ProvideMarketData,
		ProvideTickStream,
		ProvideNotifier,
		ProvideBytesCache,

		// Use cases
		ProvideRowProcessor,
		ProvideSeriesUseCase,
		ProvideQueue,
		ProvideBacktestUseCase,
		ProvideSweepUseCase,
		ProvideMonitorUseCase,
		ProvideTickCollector,
		ProvideRowsHandler,
		ProvideKafkaConsumer,

		// HTTP surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
