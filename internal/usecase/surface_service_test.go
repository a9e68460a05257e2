package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/snapshot"
	"VolSurface/internal/services/surface"
	"VolSurface/pkg/cache"
	"VolSurface/pkg/config"
)

func f64(v float64) *float64 { return &v }

func TestSurfaceServiceBuild(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	svc := newService(quotes, newMemStore(), nil, nil)

	surf, err := svc.Build(context.Background(), BuildRequest{Ticker: "spy"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if surf.Ticker != "SPY" || len(surf.Points) != 20 || surf.Diagnostics.Unsolved != 0 {
		t.Fatalf("surface = %d points, diag %+v", len(surf.Points), surf.Diagnostics)
	}
	for _, p := range surf.Points {
		if math.Abs(p.ImpliedVol-0.2) > 1e-6 {
			t.Fatalf("vol = %v", p.ImpliedVol)
		}
	}
	if !surf.ValuationTime.Equal(asOf) {
		t.Fatalf("valuation = %v", surf.ValuationTime)
	}
	if surf.Grid == nil || len(surf.Grid.X) != 50 || surf.Grid.Type != models.Call {
		t.Fatalf("default grid = %+v", surf.Grid)
	}
}

func TestSurfaceServiceUsesLiveSpot(t *testing.T) {
	quotes := &fakeQuotes{}
	tb := chain(t, "SPY", asOf, 100, 0.2)
	for i := range tb.Quotes {
		tb.Quotes[i].UnderlyingPrice = 0
	}
	quotes.set(tb)

	svc := newService(quotes, newMemStore(), nil, fixedSpot{price: 125, ok: true})
	surf, err := svc.Build(context.Background(), BuildRequest{Ticker: "SPY", NoGrid: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if surf.UnderlyingPrice != 125 {
		t.Fatalf("spot = %v, want the live spot", surf.UnderlyingPrice)
	}
	if surf.Diagnostics.FilteredWindow != 8 {
		t.Fatalf("filtered by window = %d", surf.Diagnostics.FilteredWindow)
	}
	// the 80-120% window around 125 keeps only strikes from 100 up
	for _, p := range surf.Points {
		if p.Strike < 100 {
			t.Fatalf("strike %v outside the window", p.Strike)
		}
	}
	if surf.Grid != nil {
		t.Fatalf("grid should be disabled")
	}
}

func TestSurfaceServiceOverrides(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	svc := newService(quotes, newMemStore(), nil, nil)

	surf, err := svc.Build(context.Background(), BuildRequest{
		Ticker:       "SPY",
		MinStrikePct: f64(98),
		MaxStrikePct: f64(102),
		GridPoints:   5,
		GridMethod:   surface.InterpCubic,
		GridType:     "put",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if surf.Diagnostics.FilteredWindow != 16 || len(surf.Points) != 4 {
		t.Fatalf("diag = %+v", surf.Diagnostics)
	}
	if surf.Grid == nil || surf.Grid.Type != models.Put || surf.Grid.Method != surface.InterpCubic {
		t.Fatalf("grid = %+v", surf.Grid)
	}

	_, err = svc.Build(context.Background(), BuildRequest{Ticker: "SPY", MinStrikePct: f64(130)})
	if !errors.Is(err, surface.ErrInvalidBuildConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestSurfaceServiceLiveCaches(t *testing.T) {
	quotes := &fakeQuotes{delay: 50 * time.Millisecond}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	svc := newService(quotes, newMemStore(), mc, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			surf, err := svc.Live(context.Background(), BuildRequest{Ticker: "SPY"})
			if err != nil || len(surf.Points) != 20 {
				t.Errorf("live: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&quotes.calls); n != 1 {
		t.Fatalf("chain fetched %d times, want 1", n)
	}

	cached, err := svc.Live(context.Background(), BuildRequest{Ticker: "SPY"})
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if cached.Grid == nil || len(cached.Grid.X) != 50 || len(cached.Grid.Rows) != 2 {
		t.Fatalf("cached grid lost: %+v", cached.Grid)
	}

	if _, err := svc.Live(context.Background(), BuildRequest{Ticker: "SPY", RiskFreeRate: f64(0.05)}); err != nil {
		t.Fatalf("live: %v", err)
	}
	if n := atomic.LoadInt32(&quotes.calls); n != 2 {
		t.Fatalf("overrides must not share a cache entry, fetches = %d", n)
	}
}

func TestSetTickerDropsCachedSurfaces(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	quotes.set(chain(t, "QQQ", asOf, 100, 0.2))
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	svc := newService(quotes, newMemStore(), mc, nil)
	ctx := context.Background()

	for _, req := range []BuildRequest{{Ticker: "SPY"}, {Ticker: "SPY", NoGrid: true}, {Ticker: "QQQ"}} {
		if _, err := svc.Live(ctx, req); err != nil {
			t.Fatalf("live %+v: %v", req, err)
		}
	}
	if n := atomic.LoadInt32(&quotes.calls); n != 3 {
		t.Fatalf("fetches = %d, want 3", n)
	}

	if err := svc.SetTicker(ctx, " spy ", false); err != nil {
		t.Fatalf("set ticker: %v", err)
	}
	for _, req := range []BuildRequest{{Ticker: "SPY"}, {Ticker: "SPY", NoGrid: true}, {Ticker: "QQQ"}} {
		if _, err := svc.Live(ctx, req); err != nil {
			t.Fatalf("live %+v: %v", req, err)
		}
	}
	// both SPY entries rebuild, QQQ stays cached
	if n := atomic.LoadInt32(&quotes.calls); n != 5 {
		t.Fatalf("fetches = %d, want 5", n)
	}
}

func TestSurfaceServiceHistory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	quotes := &fakeQuotes{}
	svc := newService(quotes, store, nil, nil)

	if _, err := svc.Diff(ctx, "SPY", time.Time{}, time.Time{}); !errors.Is(err, domrepo.ErrSnapshotNotFound) {
		t.Fatalf("diff on empty store: %v", err)
	}

	vols := []float64{0.2, 0.22, 0.25}
	for i, v := range vols {
		at := asOf.Add(time.Duration(i) * 72 * time.Hour)
		quotes.set(chain(t, "SPY", at, 100, v))
		snap, err := svc.Snapshot(ctx, "SPY")
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if err := store.Save(ctx, snap); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	d, err := svc.Diff(ctx, "SPY", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("diff latest: %v", err)
	}
	if !d.From.Equal(asOf.Add(72*time.Hour)) || !d.To.Equal(asOf.Add(144*time.Hour)) {
		t.Fatalf("latest diff window = %v..%v", d.From, d.To)
	}

	d, err = svc.Diff(ctx, "SPY", asOf, asOf.Add(200*time.Hour))
	if err != nil {
		t.Fatalf("diff window: %v", err)
	}
	if !d.From.Equal(asOf) || len(d.Changed) == 0 {
		t.Fatalf("window diff = %+v", d)
	}
	if _, err := svc.Diff(ctx, "SPY", asOf, asOf.Add(time.Hour)); !errors.Is(err, ErrNotEnoughSnapshots) {
		t.Fatalf("expected not enough snapshots, got %v", err)
	}

	frames, err := svc.Replay(ctx, "SPY", time.Time{}, time.Time{}, 0)
	if err != nil || len(frames) != 3 || frames[0].Diff != nil || frames[2].Diff == nil {
		t.Fatalf("replay = %d frames, %v", len(frames), err)
	}

	hist, err := svc.History(ctx, "spy", asOf.Add(time.Hour), time.Time{}, 0)
	if err != nil || len(hist) != 2 {
		t.Fatalf("history = %d, %v", len(hist), err)
	}
	empty, err := svc.History(ctx, "QQQ", time.Time{}, time.Time{}, 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("history of unknown ticker = %v, %v", empty, err)
	}

	ts, err := svc.TermStructure(ctx, "SPY", models.Call)
	if err != nil || len(ts) != 2 || math.Abs(ts[0].ImpliedVol-0.25) > 1e-6 {
		t.Fatalf("term structure = %+v, %v", ts, err)
	}
}

func TestSnapshotSkipsEmptySurface(t *testing.T) {
	svc := newService(&fakeQuotes{}, newMemStore(), nil, nil)
	if _, err := svc.Snapshot(context.Background(), "NONE"); !errors.Is(err, ErrEmptySurface) {
		t.Fatalf("expected ErrEmptySurface, got %v", err)
	}
}

func TestParamsFactory(t *testing.T) {
	cfg := config.Default()
	cfg.Surface.OptionTypes = []string{"c"}
	f := ParamsFactory{Surface: cfg.Surface, Solver: cfg.Solver}

	p, err := f.Params(BuildRequest{Ticker: "SPY", DividendYield: f64(0)}, asOf)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.RiskFreeRate != 0.015 || p.DividendYield != 0 || p.MinTimeToExpiry != 7*24*time.Hour {
		t.Fatalf("params = %+v", p)
	}
	if len(p.OptionTypes) != 1 || p.OptionTypes[0] != models.Call {
		t.Fatalf("option types = %v", p.OptionTypes)
	}
	if p.Grid == nil || p.Grid.Points != 50 || p.Grid.Method != surface.InterpLinear {
		t.Fatalf("grid = %+v", p.Grid)
	}

	cfg.Surface.OptionTypes = []string{"straddle"}
	f = ParamsFactory{Surface: cfg.Surface, Solver: cfg.Solver}
	if _, err := f.Params(BuildRequest{Ticker: "SPY"}, asOf); !errors.Is(err, surface.ErrInvalidBuildConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestDiffToleranceDefault(t *testing.T) {
	svc := newService(&fakeQuotes{}, newMemStore(), nil, nil)
	if svc.opts.DiffTolerance != snapshot.DefaultDiffTolerance {
		t.Fatalf("tolerance = %v", svc.opts.DiffTolerance)
	}
}
