package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/snapshot"
	"VolSurface/internal/services/surface"
	"VolSurface/pkg/cache"
	"VolSurface/pkg/logger"
)

var (
	// ErrEmptySurface is returned when a build solved no point. Collectors skip these.
	ErrEmptySurface = errors.New("surface has no solved points")
	// ErrNotEnoughSnapshots is returned by Diff when the window holds fewer than two.
	ErrNotEnoughSnapshots = errors.New("need at least two snapshots")
)

// SpotSource provides a live underlying price fresher than maxAge.
type SpotSource interface {
	Spot(symbol string, maxAge time.Duration) (float64, bool)
}

// SurfaceOptions configures SurfaceService.
type SurfaceOptions struct {
	CacheTTL      time.Duration
	LockTTL       time.Duration
	KeyPrefix     string
	SpotMaxAge    time.Duration
	DiffTolerance float64
}

// SurfaceService builds live surfaces and answers history queries over the store.
type SurfaceService struct {
	quotes   domrepo.QuoteSource
	spots    SpotSource
	store    domrepo.SnapshotStore
	registry domrepo.TickerRegistry
	cache    cache.Service
	metrics  domrepo.Metrics
	l        *logger.Logger
	params   ParamsFactory
	opts     SurfaceOptions
	now      func() time.Time
}

func NewSurfaceService(
	quotes domrepo.QuoteSource,
	spots SpotSource,
	store domrepo.SnapshotStore,
	registry domrepo.TickerRegistry,
	c cache.Service,
	metrics domrepo.Metrics,
	l *logger.Logger,
	params ParamsFactory,
	opts SurfaceOptions,
) *SurfaceService {
	if opts.DiffTolerance <= 0 {
		opts.DiffTolerance = snapshot.DefaultDiffTolerance
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &SurfaceService{
		quotes:   quotes,
		spots:    spots,
		store:    store,
		registry: registry,
		cache:    c,
		metrics:  metrics,
		l:        l,
		params:   params,
		opts:     opts,
		now:      time.Now,
	}
}

// Build fetches the chain and builds a surface. It never consults the cache.
func (s *SurfaceService) Build(ctx context.Context, req BuildRequest) (*models.VolatilitySurface, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	start := time.Now()

	table, err := s.quotes.FetchChain(ctx, req.Ticker)
	if err != nil {
		s.metrics.RecordError("fetch_chain")
		return nil, err
	}
	valuation := table.AsOf
	if valuation.IsZero() {
		valuation = s.now().UTC()
	}
	p, err := s.params.Params(req, valuation)
	if err != nil {
		return nil, err
	}
	p.Spot = table.UnderlyingPrice
	if s.spots != nil && s.opts.SpotMaxAge > 0 {
		if spot, ok := s.spots.Spot(req.Ticker, s.opts.SpotMaxAge); ok {
			p.Spot = spot
		}
	}

	surf, err := surface.Build(table.Quotes, p)
	if err != nil {
		s.metrics.RecordError("build")
		return nil, fmt.Errorf("build %s: %w", req.Ticker, err)
	}

	d := surf.Diagnostics
	s.metrics.RecordSurface(req.Ticker, len(surf.Points), d.Unsolved)
	for reason, n := range d.UnsolvedByReason {
		s.metrics.RecordUnsolved(reason, n)
	}
	s.metrics.RecordLatency("surface_build", time.Since(start).Seconds())
	s.l.Info("surface built",
		logger.String("ticker", req.Ticker),
		logger.Int("received", d.Received),
		logger.Int("solved", d.Solved),
		logger.Int("unsolved", d.Unsolved),
		logger.Int("arbitrage", d.ArbitrageViolations),
		logger.Float64("spot", surf.UnderlyingPrice),
		logger.Duration("took", time.Since(start)))
	return surf, nil
}

// Live serves a recently built surface from the cache, building it when missing. A
// per-request lock keeps concurrent callers from building the same surface twice.
func (s *SurfaceService) Live(ctx context.Context, req BuildRequest) (*models.VolatilitySurface, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return s.Build(ctx, req)
	}

	key := cache.Key(s.opts.KeyPrefix, "surface", req.cacheKey())
	if surf, err := cache.GetTyped[models.VolatilitySurface](ctx, s.cache, key); err == nil {
		return surf, nil
	}

	lockKey := cache.Key(s.opts.KeyPrefix, "build", req.cacheKey())
	locked, err := s.cache.TryLock(ctx, lockKey, s.opts.LockTTL)
	if err != nil {
		s.l.Warn("surface lock", logger.String("ticker", req.Ticker), logger.Error(err))
	}
	if err == nil && !locked {
		if surf, ok := s.waitForCache(ctx, key); ok {
			return surf, nil
		}
	}
	if locked {
		defer func() {
			if err := s.cache.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				s.l.Warn("surface unlock", logger.String("ticker", req.Ticker), logger.Error(err))
			}
		}()
	}

	surf, err := s.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, surf, s.opts.CacheTTL); err != nil {
		s.l.Warn("surface cache set", logger.String("ticker", req.Ticker), logger.Error(err))
	}
	return surf, nil
}

// waitForCache polls for the surface another caller is building, giving up after a
// bounded wait so a crashed builder only costs one extra build.
func (s *SurfaceService) waitForCache(ctx context.Context, key string) (*models.VolatilitySurface, bool) {
	wait := s.opts.LockTTL
	if wait > 5*time.Second {
		wait = 5 * time.Second
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-tick.C:
			if surf, err := cache.GetTyped[models.VolatilitySurface](ctx, s.cache, key); err == nil {
				return surf, true
			}
		}
	}
}

// Snapshot builds a surface and captures it. Empty surfaces return ErrEmptySurface.
func (s *SurfaceService) Snapshot(ctx context.Context, ticker string) (*models.Snapshot, error) {
	surf, err := s.Build(ctx, BuildRequest{Ticker: ticker})
	if err != nil {
		return nil, err
	}
	if surf.IsEmpty() {
		return nil, fmt.Errorf("%s: %w", surf.Ticker, ErrEmptySurface)
	}
	return snapshot.New(surf, surf.ValuationTime)
}

func (s *SurfaceService) Latest(ctx context.Context, ticker string) (*models.Snapshot, error) {
	return s.store.Latest(ctx, strings.ToUpper(ticker))
}

func (s *SurfaceService) Range(ctx context.Context, ticker string) (*models.TimeRange, error) {
	return s.store.TimeRange(ctx, strings.ToUpper(ticker))
}

// History returns snapshots in [from, to]. A zero bound means the stored extreme.
func (s *SurfaceService) History(ctx context.Context, ticker string, from, to time.Time, limit int) ([]*models.Snapshot, error) {
	ticker = strings.ToUpper(ticker)
	if from.IsZero() || to.IsZero() {
		tr, err := s.store.TimeRange(ctx, ticker)
		if err != nil {
			if errors.Is(err, domrepo.ErrSnapshotNotFound) {
				return []*models.Snapshot{}, nil
			}
			return nil, err
		}
		if from.IsZero() {
			from = tr.Earliest
		}
		if to.IsZero() {
			to = tr.Latest
		}
	}
	return s.store.Between(ctx, ticker, from, to, limit)
}

// Diff compares the first and last snapshot of [from, to]. Without bounds it compares
// the two most recent snapshots.
func (s *SurfaceService) Diff(ctx context.Context, ticker string, from, to time.Time) (*models.SnapshotDiff, error) {
	var a, b *models.Snapshot
	if from.IsZero() && to.IsZero() {
		latest, err := s.Latest(ctx, ticker)
		if err != nil {
			return nil, err
		}
		tr, err := s.Range(ctx, ticker)
		if err != nil {
			return nil, err
		}
		// the latest two, without loading the whole history
		prev, err := s.previous(ctx, latest, tr.Earliest)
		if err != nil {
			return nil, err
		}
		a, b = prev, latest
	} else {
		snaps, err := s.History(ctx, ticker, from, to, 0)
		if err != nil {
			return nil, err
		}
		if len(snaps) < 2 {
			return nil, ErrNotEnoughSnapshots
		}
		a, b = snaps[0], snaps[len(snaps)-1]
	}
	return snapshot.DiffWithTolerance(a, b, s.opts.DiffTolerance)
}

func (s *SurfaceService) previous(ctx context.Context, latest *models.Snapshot, earliest time.Time) (*models.Snapshot, error) {
	to := latest.Timestamp.Add(-time.Nanosecond)
	if to.Before(earliest) {
		return nil, ErrNotEnoughSnapshots
	}
	// widen the lookback window until a snapshot turns up
	for span := 24 * time.Hour; ; span *= 4 {
		from := to.Add(-span)
		if from.Before(earliest) {
			from = earliest
		}
		snaps, err := s.store.Between(ctx, latest.Ticker, from, to, 0)
		if err != nil {
			return nil, err
		}
		if n := len(snaps); n > 0 {
			return snaps[n-1], nil
		}
		if !from.After(earliest) {
			return nil, ErrNotEnoughSnapshots
		}
	}
}

// Replay returns frames over [from, to] in time order.
func (s *SurfaceService) Replay(ctx context.Context, ticker string, from, to time.Time, limit int) ([]models.ReplayFrame, error) {
	snaps, err := s.History(ctx, ticker, from, to, limit)
	if err != nil {
		return nil, err
	}
	return snapshot.Replay(snaps)
}

// TermStructure is the ATM term structure of the latest snapshot.
func (s *SurfaceService) TermStructure(ctx context.Context, ticker string, t models.OptionType) ([]models.TermPoint, error) {
	latest, err := s.Latest(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return snapshot.TermStructure(latest.Surface, t), nil
}

func (s *SurfaceService) Tickers(ctx context.Context) ([]models.Ticker, error) {
	return s.registry.List(ctx)
}

// SetTicker flips a ticker in the registry and drops its cached live surfaces, so a
// reactivated ticker never serves a surface built before it was paused.
func (s *SurfaceService) SetTicker(ctx context.Context, symbol string, active bool) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := s.registry.SetActive(ctx, symbol, active); err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	pattern := cache.Key(s.opts.KeyPrefix, "surface", symbol) + ":*"
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.l.Warn("surface cache invalidate", logger.String("ticker", symbol), logger.Error(err))
	}
	return nil
}

// Health pings the store.
func (s *SurfaceService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}
