package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	mid "VolSurface/internal/middleware"
	"VolSurface/pkg/logger"
)

// SnapshotProcessor is the downstream of the collector, normally the pipeline.
type SnapshotProcessor interface {
	Process(ctx context.Context, s *models.Snapshot) error
}

// CollectorConfig configures SnapshotCollector.
type CollectorConfig struct {
	Interval     time.Duration
	Workers      int
	BuildTimeout time.Duration
	// Seed is registered as active on start; existing registry entries are left alone.
	Seed []string
}

// CycleResult summarizes one collection cycle.
type CycleResult struct {
	Tickers  int
	Stored   int
	Buffered int
	Skipped  int
	Failed   int
}

// SnapshotCollector snapshots every active ticker once at start and then on every
// interval.
type SnapshotCollector struct {
	surfaces *SurfaceService
	out      SnapshotProcessor
	registry domrepo.TickerRegistry
	metrics  domrepo.Metrics
	l        *logger.Logger
	cfg      CollectorConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewSnapshotCollector(surfaces *SurfaceService, out SnapshotProcessor, registry domrepo.TickerRegistry, metrics domrepo.Metrics, l *logger.Logger, cfg CollectorConfig) *SnapshotCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 30 * time.Second
	}
	return &SnapshotCollector{
		surfaces: surfaces,
		out:      out,
		registry: registry,
		metrics:  metrics,
		l:        l,
		cfg:      cfg,
	}
}

// Start seeds the registry and launches the schedule.
func (c *SnapshotCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("collector already running")
	}
	if err := c.registry.Ensure(ctx, c.cfg.Seed); err != nil {
		return fmt.Errorf("seed tickers: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.loop(runCtx, c.done)

	c.l.Info("snapshot collector started",
		logger.Duration("interval", c.cfg.Interval),
		logger.Int("workers", c.cfg.Workers))
	return nil
}

// Stop cancels the schedule and waits for the current cycle to finish.
func (c *SnapshotCollector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.l.Info("snapshot collector stopped")
}

func (c *SnapshotCollector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.RunOnce(ctx)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce snapshots every active ticker with at most Workers builds in flight.
func (c *SnapshotCollector) RunOnce(ctx context.Context) CycleResult {
	start := time.Now()
	tickers, err := c.registry.Active(ctx)
	if err != nil {
		c.metrics.RecordError("registry")
		c.l.Error("load active tickers", logger.Error(err))
		return CycleResult{}
	}

	var (
		mu  sync.Mutex
		res = CycleResult{Tickers: len(tickers)}
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.cfg.Workers)
	)
	for _, t := range tickers {
		select {
		case <-ctx.Done():
			wg.Wait()
			return res
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			defer func() { <-sem }()
			_, err := c.TakeSnapshot(ctx, ticker)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Stored++
			case errors.Is(err, mid.ErrBuffered):
				res.Buffered++
			case errors.Is(err, ErrEmptySurface), errors.Is(err, mid.ErrThrottled), errors.Is(err, domrepo.ErrSnapshotExists):
				res.Skipped++
			default:
				res.Failed++
			}
		}(t)
	}
	wg.Wait()

	c.metrics.RecordLatency("collect_cycle", time.Since(start).Seconds())
	c.l.Info("snapshot cycle done",
		logger.Int("tickers", res.Tickers),
		logger.Int("stored", res.Stored),
		logger.Int("buffered", res.Buffered),
		logger.Int("skipped", res.Skipped),
		logger.Int("failed", res.Failed),
		logger.Duration("took", time.Since(start)))
	return res
}

// TakeSnapshot builds, captures and forwards one ticker's surface.
func (c *SnapshotCollector) TakeSnapshot(ctx context.Context, ticker string) (*models.Snapshot, error) {
	bctx, cancel := context.WithTimeout(ctx, c.cfg.BuildTimeout)
	defer cancel()

	snap, err := c.surfaces.Snapshot(bctx, ticker)
	if err != nil {
		if errors.Is(err, ErrEmptySurface) {
			c.l.Warn("empty surface, snapshot skipped", logger.String("ticker", ticker))
		} else {
			c.l.Error("snapshot build failed", logger.String("ticker", ticker), logger.Error(err))
		}
		return nil, err
	}

	if err := c.out.Process(ctx, snap); err != nil {
		if errors.Is(err, mid.ErrThrottled) || errors.Is(err, mid.ErrBuffered) {
			c.l.Info("snapshot deferred", logger.String("ticker", ticker), logger.Error(err))
		} else {
			c.l.Error("snapshot not stored", logger.String("ticker", ticker), logger.Error(err))
		}
		return snap, err
	}
	c.l.Debug("snapshot stored",
		logger.String("ticker", snap.Ticker),
		logger.String("id", snap.ID),
		logger.Int("points", len(snap.Surface.Points)))
	return snap, nil
}
