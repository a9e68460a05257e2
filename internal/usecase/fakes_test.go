package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/pricing"
	"VolSurface/pkg/cache"
	"VolSurface/pkg/config"
	"VolSurface/pkg/logger"
	"VolSurface/pkg/metrics"
	"VolSurface/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
)

var asOf = time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC)

// chain prices calls and puts off a flat vol so every quote solves. Expiries hang off
// asOf so chains taken at different times share point keys.
func chain(t *testing.T, ticker string, at time.Time, spot, vol float64) *models.QuoteTable {
	t.Helper()
	cfg := config.Default()
	table := &models.QuoteTable{Ticker: ticker, UnderlyingPrice: spot, AsOf: at}
	for _, days := range []int{30, 60} {
		expiry := asOf.AddDate(0, 0, days)
		tau := util.YearFraction(at, expiry)
		for _, pct := range []float64{0.9, 0.95, 1, 1.05, 1.1} {
			k := spot * pct
			for _, typ := range []models.OptionType{models.Call, models.Put} {
				price, err := pricing.Price(spot, k, tau, cfg.Surface.RiskFreeRate, cfg.Surface.DividendYield, vol, typ)
				if err != nil {
					t.Fatalf("price: %v", err)
				}
				table.Quotes = append(table.Quotes, models.Quote{
					Strike: k, Expiry: expiry, Type: typ,
					Bid: price - 0.005, Ask: price + 0.005,
					UnderlyingPrice: spot, QuotedAt: at,
				})
			}
		}
	}
	return table
}

type fakeQuotes struct {
	mu     sync.Mutex
	tables map[string]*models.QuoteTable
	calls  int32
	delay  time.Duration
}

func (f *fakeQuotes) FetchChain(ctx context.Context, ticker string) (*models.QuoteTable, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tb, ok := f.tables[ticker]; ok {
		return tb, nil
	}
	return &models.QuoteTable{Ticker: ticker, AsOf: asOf}, nil
}

func (f *fakeQuotes) set(tb *models.QuoteTable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables == nil {
		f.tables = make(map[string]*models.QuoteTable)
	}
	f.tables[tb.Ticker] = tb
}

// memStore is an in-memory SnapshotStore and TickerRegistry.
type memStore struct {
	mu      sync.Mutex
	snaps   map[string][]*models.Snapshot
	tickers map[string]bool
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string][]*models.Snapshot), tickers: make(map[string]bool)}
}

func (m *memStore) Init(context.Context) error   { return nil }
func (m *memStore) Health(context.Context) error { return nil }
func (m *memStore) Close() error                 { return nil }

func (m *memStore) Save(_ context.Context, s *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.snaps[s.Ticker] {
		if o.Timestamp.Equal(s.Timestamp) {
			return domrepo.ErrSnapshotExists
		}
	}
	list := append(m.snaps[s.Ticker], s)
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.snaps[s.Ticker] = list
	return nil
}

func (m *memStore) Latest(_ context.Context, ticker string) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snaps[ticker]
	if len(list) == 0 {
		return nil, domrepo.ErrSnapshotNotFound
	}
	return list[len(list)-1], nil
}

func (m *memStore) TimeRange(_ context.Context, ticker string) (*models.TimeRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snaps[ticker]
	if len(list) == 0 {
		return nil, domrepo.ErrSnapshotNotFound
	}
	return &models.TimeRange{Ticker: ticker, Earliest: list[0].Timestamp, Latest: list[len(list)-1].Timestamp, Count: int64(len(list))}, nil
}

func (m *memStore) Between(_ context.Context, ticker string, from, to time.Time, limit int) ([]*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Snapshot, 0)
	for _, s := range m.snaps[ticker] {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Ensure(_ context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if _, ok := m.tickers[s]; !ok && s != "" {
			m.tickers[s] = true
		}
	}
	return nil
}

func (m *memStore) SetActive(_ context.Context, symbol string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[strings.ToUpper(symbol)] = active
	return nil
}

func (m *memStore) Active(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for s, a := range m.tickers {
		if a {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) List(context.Context) ([]models.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ticker, 0, len(m.tickers))
	for s, a := range m.tickers {
		out = append(out, models.Ticker{Symbol: s, Active: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *memStore) count(ticker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps[ticker])
}

type fixedSpot struct {
	price float64
	ok    bool
}

func (f fixedSpot) Spot(string, time.Duration) (float64, bool) { return f.price, f.ok }

func testRecorder() *metrics.Recorder {
	return metrics.NewWithRegisterer(prometheus.NewRegistry())
}

func newService(quotes *fakeQuotes, store *memStore, c cache.Service, spots SpotSource) *SurfaceService {
	cfg := config.Default()
	return NewSurfaceService(quotes, spots, store, store, c, testRecorder(), logger.Nop(),
		ParamsFactory{Surface: cfg.Surface, Solver: cfg.Solver},
		SurfaceOptions{
			CacheTTL:   time.Minute,
			LockTTL:    time.Second,
			KeyPrefix:  "test",
			SpotMaxAge: time.Minute,
		})
}
