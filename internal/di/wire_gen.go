// Hand-maintained injector mirroring the provider set in wire.go. It has the layout
// wire emits, so running wire in this directory replaces it; keep the two in step
// when a provider changes.

//go:build !wireinject
// +build !wireinject

package di

import (
	"VolSurface/pkg/config"
	"VolSurface/pkg/server"
)

// Injectors from wire.go:

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	snapshotStore, err := ProvideSnapshotStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	snapshotSink := ProvideSnapshotSink(cfg, snapshotStore, producer)
	recorder := ProvideMetrics()
	snapshotPipeline := ProvideSnapshotPipeline(cfg, snapshotSink, recorder, logger)
	quoteSource := ProvideQuoteSource(cfg, logger)
	spotBook := ProvideSpotBook(cfg, recorder, logger)
	tickerRegistry, err := ProvideTickerRegistry(snapshotStore)
	if err != nil {
		return nil, err
	}
	client, err := ProvideRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	service, err := ProvideCache(cfg, client)
	if err != nil {
		return nil, err
	}
	surfaceService := ProvideSurfaceService(cfg, quoteSource, spotBook, snapshotStore, tickerRegistry, service, recorder, logger)
	snapshotCollector := ProvideSnapshotCollector(cfg, surfaceService, snapshotPipeline, tickerRegistry, recorder, logger)
	consumer, err := ProvideKafkaConsumer(cfg, snapshotStore, recorder, logger)
	if err != nil {
		return nil, err
	}
	redisQueue := ProvideQueue(cfg, client, snapshotCollector, logger)
	surfaceEchoHandler := ProvideSurfaceHandler(cfg, surfaceService, snapshotCollector, redisQueue, logger)
	httpServer := ProvideHTTPServer(cfg, surfaceEchoHandler, logger)
	app := ProvideApp(cfg, logger, snapshotStore, snapshotSink, snapshotPipeline, snapshotCollector, spotBook, consumer, redisQueue, client, service, httpServer)
	return app, nil
}
