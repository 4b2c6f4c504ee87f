//go:build wireinject
// +build wireinject

package di

import (
	"TPMForge/pkg/config"
	"TPMForge/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideHTTPClient,

		// Infrastructure clients
		ProvideRedis,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideQueue,

		// Repositories
		ProvidePublisher,
		ProvideStorage,
		ProvideObservationStore,
		ProvideFrameCache,

		// Services
		ProvideParserRegistry,
		ProvideFetcher,
		ProvideNotifier,

		// Use cases
		ProvideFrameProcessor,
		ProvideAgentRegistry,
		ProvideDetectorBank,
		ProvideFrameHub,
		ProvideForgeCycle,
		ProvideTickPipeline,
		ProvideValidationRunner,
		ProvideKafkaTicksHandler,

		// HTTP
		ProvideLimiter,
		ProvideHandlers,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
