package di

import (
	"context"
	"fmt"
	"time"

	"VolSurface/internal/domain/repository"
	"VolSurface/internal/handler/api"
	mid "VolSurface/internal/middleware"
	internalrepo "VolSurface/internal/repository"
	"VolSurface/internal/service/finnhub"
	"VolSurface/internal/service/marketdata"
	"VolSurface/internal/service/ratelimit"
	"VolSurface/internal/usecase"
	"VolSurface/pkg/cache"
	pkgch "VolSurface/pkg/clickhouse"
	"VolSurface/pkg/config"
	xhttp "VolSurface/pkg/http"
	pkgkafka "VolSurface/pkg/kafka"
	"VolSurface/pkg/logger"
	"VolSurface/pkg/metrics"
	"VolSurface/pkg/queue"
	"VolSurface/pkg/server"
	pkgsqlite "VolSurface/pkg/sqlite"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

const initTimeout = 15 * time.Second

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		TimeFormat: cfg.Logger.TimeFormat,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideSnapshotStore opens the history database selected by backend.type (or
// backend.store in kafka mode) and ensures its schema.
func ProvideSnapshotStore(cfg *config.Config, l *logger.Logger) (repository.SnapshotStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var store repository.SnapshotStore
	switch cfg.Backend.StoreType() {
	case config.BackendClickHouse:
		ch := cfg.ClickHouse
		client, err := pkgch.NewClient(ctx,
			pkgch.WithAddr(ch.Host, ch.Port),
			pkgch.WithDatabase(ch.Database),
			pkgch.WithCredentials(ch.User, ch.Password),
			pkgch.WithPool(10, 5),
			pkgch.WithHTTP(ch.UseHTTP),
			pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
			pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
			pkgch.WithCompression(ch.Compression),
			pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = internalrepo.NewCHSnapshotStore(client, l)
	default:
		client, err := pkgsqlite.NewClient(ctx, pkgsqlite.WithPath(cfg.SQLite.Path))
		if err != nil {
			return nil, fmt.Errorf("sqlite client: %w", err)
		}
		store = internalrepo.NewSQLiteSnapshotStore(client)
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}
	l.Info("snapshot store ready", logger.String("store", cfg.Backend.StoreType()))
	return store, nil
}

// ProvideTickerRegistry exposes the registry table of the snapshot store.
func ProvideTickerRegistry(store repository.SnapshotStore) (repository.TickerRegistry, error) {
	reg, ok := store.(repository.TickerRegistry)
	if !ok {
		return nil, fmt.Errorf("%T has no ticker registry", store)
	}
	return reg, nil
}

// ProvideKafkaProducer creates a Kafka producer in kafka mode and nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != config.BackendKafka {
		return nil, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSnapshotSink picks where collected snapshots go: the broker in kafka mode,
// the store otherwise.
func ProvideSnapshotSink(cfg *config.Config, store repository.SnapshotStore, producer *pkgkafka.Producer) repository.SnapshotSink {
	if producer != nil {
		return internalrepo.NewKafkaSnapshotPublisher(producer, cfg.Kafka.Topic)
	}
	return store
}

// ProvideSnapshotPipeline creates the throttle and retry buffer in front of the sink.
func ProvideSnapshotPipeline(cfg *config.Config, sink repository.SnapshotSink, m repository.Metrics, l *logger.Logger) *mid.SnapshotPipeline {
	s := cfg.Snapshot
	return mid.NewSnapshotPipeline(sink, m, l,
		mid.WithBackend(cfg.Backend.Type),
		mid.WithMinSpacing(s.MinSpacing),
		mid.WithBufferSize(s.BufferSize),
		mid.WithRetry(s.RetryMax, s.BackoffMin, s.BackoffMax),
	)
}

// ProvideKafkaConsumer creates the snapshot consumer when kafka.consumer.enabled is
// set in kafka mode.
func ProvideKafkaConsumer(cfg *config.Config, store repository.SnapshotStore, m repository.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != config.BackendKafka || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	kc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerStartOffset(kc.StartOffset),
		pkgkafka.WithConsumerWorkers(kc.Workers),
		pkgkafka.WithConsumerBufferSize(kc.BufferSize),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaSnapshotHandler(cfg.Kafka.Topic, store, m, cfg.Backend.Store, l))
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, km kafkago.Message, err error) {
			m.RecordError("consumer_handle")
			l.Warn("snapshot message failed",
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Error(err))
		},
	})
	return consumer, nil
}

// ProvideRedisClient connects to redis when redis.enabled is set and returns nil
// otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache creates the live surface cache named by cache.type.
func ProvideCache(cfg *config.Config, rc *redis.Client) (cache.Service, error) {
	c := cfg.Cache
	switch c.Type {
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("cache.type redis needs a redis client")
		}
		return cache.NewRedisCache(rc, ""), nil
	case "layered":
		if rc == nil {
			return nil, fmt.Errorf("cache.type layered needs a redis client")
		}
		l1 := c.SurfaceTTL / 5
		return cache.NewLayeredCache(cache.NewRedisCache(rc, ""), l1,
			cache.WithMemoryMaxSize(c.MaxEntries)), nil
	default:
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(c.MaxEntries), cache.WithMemoryCleanup(time.Minute)), nil
	}
}

// ProvideQuoteSource creates the option chain client.
func ProvideQuoteSource(cfg *config.Config, l *logger.Logger) repository.QuoteSource {
	md := cfg.MarketData
	return marketdata.New(marketdata.Config{
		BaseURL:      md.BaseURL,
		APIKey:       md.APIKey,
		APIKeyHeader: md.APIKeyHeader,
		Timeout:      md.Timeout,
		RetryMax:     md.RetryMax,
		RetryBackoff: md.RetryBackoff,
	}, l)
}

// ProvideSpotBook creates the live spot book when spot.enabled is set.
func ProvideSpotBook(cfg *config.Config, m repository.Metrics, l *logger.Logger) *usecase.SpotBook {
	if !cfg.Spot.Enabled {
		return nil
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:         cfg.Finnhub.APIKey,
		WebSocketURL:   cfg.Finnhub.WebSocketURL,
		Symbols:        cfg.Snapshot.Tickers,
		ReconnectDelay: cfg.Finnhub.ReconnectDelay,
		PingInterval:   cfg.Finnhub.PingInterval,
	}, l)
	return usecase.NewSpotBook(stream, m, l)
}

// ProvideSurfaceService creates the surface use case.
func ProvideSurfaceService(
	cfg *config.Config,
	quotes repository.QuoteSource,
	book *usecase.SpotBook,
	store repository.SnapshotStore,
	registry repository.TickerRegistry,
	c cache.Service,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.SurfaceService {
	var spots usecase.SpotSource
	if book != nil {
		spots = book
	}
	return usecase.NewSurfaceService(quotes, spots, store, registry, c, m, l,
		usecase.ParamsFactory{Surface: cfg.Surface, Solver: cfg.Solver},
		usecase.SurfaceOptions{
			CacheTTL:      cfg.Cache.SurfaceTTL,
			LockTTL:       cfg.Cache.LockTTL,
			KeyPrefix:     cfg.Cache.KeyPrefix,
			SpotMaxAge:    cfg.Spot.MaxAge,
			DiffTolerance: cfg.Snapshot.DiffTolerance,
		})
}

// ProvideSnapshotCollector creates the scheduled collector.
func ProvideSnapshotCollector(
	cfg *config.Config,
	svc *usecase.SurfaceService,
	pipe *mid.SnapshotPipeline,
	registry repository.TickerRegistry,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.SnapshotCollector {
	s := cfg.Snapshot
	return usecase.NewSnapshotCollector(svc, pipe, registry, m, l, usecase.CollectorConfig{
		Interval:     s.Interval,
		Workers:      s.Workers,
		BuildTimeout: s.BuildTimeout,
		Seed:         s.Tickers,
	})
}

// ProvideQueue creates the on-demand snapshot queue when queue.enabled is set.
func ProvideQueue(cfg *config.Config, rc *redis.Client, collector *usecase.SnapshotCollector, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := cfg.Queue
	return queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    q.Workers,
		RetryLimit: q.RetryLimit,
		RetryDelay: q.RetryDelay,
		DedupeTTL:  q.DedupeTTL,
	}, rc, []queue.Job{usecase.NewSnapshotJob(collector)}, queue.WithKeyPrefix(q.KeyPrefix))
}

// ProvideSurfaceHandler creates the HTTP handler.
func ProvideSurfaceHandler(
	cfg *config.Config,
	svc *usecase.SurfaceService,
	collector *usecase.SnapshotCollector,
	q *queue.RedisQueue,
	l *logger.Logger,
) *api.SurfaceEchoHandler {
	var qs queue.QueueService
	if q != nil {
		qs = q
	}
	var rl *ratelimit.Limiter
	if cfg.RateLimit.SurfacePerMinute > 0 {
		rl = ratelimit.New(cfg.RateLimit.SurfacePerMinute, cfg.RateLimit.Burst)
	}
	return api.NewSurfaceEchoHandler(l, svc, rl, qs, collector)
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.SurfaceEchoHandler, l *logger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.Handler{h},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins...),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	store repository.SnapshotStore,
	sink repository.SnapshotSink,
	pipe *mid.SnapshotPipeline,
	collector *usecase.SnapshotCollector,
	book *usecase.SpotBook,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	rc *redis.Client,
	c cache.Service,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, l, server.Components{
		Store:     store,
		Sink:      sink,
		Pipeline:  pipe,
		Collector: collector,
		SpotBook:  book,
		Consumer:  consumer,
		Queue:     q,
		Redis:     rc,
		Cache:     c,
		HTTP:      srv,
	})
}
