//go:build wireinject
// +build wireinject

package di

import (
	"VolSurface/internal/domain/repository"
	"VolSurface/pkg/config"
	"VolSurface/pkg/metrics"
	"VolSurface/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,

		// Metrics
		ProvideMetrics,
		wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),

		// Infrastructure clients
		ProvideSnapshotStore,
		ProvideTickerRegistry,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,
		ProvideCache,

		// Adapters
		ProvideQuoteSource,
		ProvideSpotBook,
		ProvideSnapshotSink,
		ProvideSnapshotPipeline,

		// Use cases
		ProvideSurfaceService,
		ProvideSnapshotCollector,
		ProvideQueue,

		// HTTP
		ProvideSurfaceHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
