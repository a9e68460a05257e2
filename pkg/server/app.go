package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"VolSurface/internal/domain/repository"
	mid "VolSurface/internal/middleware"
	"VolSurface/internal/usecase"
	"VolSurface/pkg/cache"
	"VolSurface/pkg/config"
	xhttp "VolSurface/pkg/http"
	pkgkafka "VolSurface/pkg/kafka"
	applogger "VolSurface/pkg/logger"
	"VolSurface/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// Components are the long-lived parts of the app. Optional ones are nil when their
// feature is switched off.
type Components struct {
	Store     repository.SnapshotStore
	Sink      repository.SnapshotSink
	Pipeline  *mid.SnapshotPipeline
	Collector *usecase.SnapshotCollector
	SpotBook  *usecase.SpotBook
	Consumer  *pkgkafka.Consumer
	Queue     *queue.RedisQueue
	Redis     *redis.Client
	Cache     cache.Service
	HTTP      *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	l   *applogger.Logger
	c   Components
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, l: l, c: c}
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}
	<-ctx.Done()

	a.l.Info("shutdown signal received")
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	l := a.l

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Start(); err != nil {
			l.Error("kafka consumer start", applogger.Error(err))
			return err
		}
	}

	a.c.Pipeline.Start(ctx)

	// a dead spot stream only costs freshness: builds fall back to the chain's spot
	if a.c.SpotBook != nil {
		if err := a.c.SpotBook.Start(ctx); err != nil {
			l.Warn("spot stream unavailable", applogger.Error(err))
		} else {
			l.Info("spot stream started", applogger.Strings("symbols", a.cfg.Snapshot.Tickers))
		}
	}

	if err := a.c.Collector.Start(ctx); err != nil {
		l.Error("collector start", applogger.Error(err))
		return err
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Start(); err != nil {
			l.Error("snapshot queue start", applogger.Error(err))
			return err
		}
	}

	if err := a.c.HTTP.Start(); err != nil {
		l.Error("http server start", applogger.Error(err))
		return err
	}

	l.Info("volsurface started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("backend", a.cfg.Backend.Type),
		applogger.String("store", a.cfg.Backend.StoreType()),
		applogger.Int("port", a.cfg.Server.Port))
	return nil
}

// shutdown stops producers of work before the stores they write to.
func (a *App) shutdown() {
	l := a.l
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.c.HTTP.Stop(ctx); err != nil {
		l.Error("http shutdown", applogger.Error(err))
	}
	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			l.Warn("snapshot queue stop", applogger.Error(err))
		}
	}
	a.c.Collector.Stop()
	if a.c.SpotBook != nil {
		if err := a.c.SpotBook.Stop(); err != nil {
			l.Warn("spot stream stop", applogger.Error(err))
		}
	}
	a.c.Pipeline.Stop()

	if pub, ok := a.c.Sink.(repository.SnapshotPublisher); ok && a.c.Sink != repository.SnapshotSink(a.c.Store) {
		if err := pub.Close(); err != nil {
			l.Warn("snapshot publisher close", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop", applogger.Error(err))
		}
	}
	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			l.Warn("cache close", applogger.Error(err))
		}
	}
	if a.c.Redis != nil {
		if err := a.c.Redis.Close(); err != nil {
			l.Warn("redis close", applogger.Error(err))
		}
	}
	if err := a.c.Store.Close(); err != nil {
		l.Warn("snapshot store close", applogger.Error(err))
	}

	l.Info("shutdown complete")
}
