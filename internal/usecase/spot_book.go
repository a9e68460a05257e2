package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/pkg/logger"
)

// SpotBook keeps the last trade of every symbol seen on the spot stream.
type SpotBook struct {
	stream  domrepo.SpotStream
	metrics domrepo.Metrics
	l       *logger.Logger
	now     func() time.Time

	mu   sync.RWMutex
	last map[string]models.SpotTick

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSpotBook(stream domrepo.SpotStream, metrics domrepo.Metrics, l *logger.Logger) *SpotBook {
	return &SpotBook{
		stream:  stream,
		metrics: metrics,
		l:       l,
		now:     time.Now,
		last:    make(map[string]models.SpotTick),
	}
}

// Update records a tick unless an equal or newer one is already known.
func (b *SpotBook) Update(t *models.SpotTick) {
	if t == nil || t.Symbol == "" || !(t.Price > 0) {
		return
	}
	sym := strings.ToUpper(t.Symbol)
	b.mu.Lock()
	prev, ok := b.last[sym]
	if !ok || t.Timestamp.After(prev.Timestamp) {
		tick := *t
		tick.Symbol = sym
		b.last[sym] = tick
	}
	b.mu.Unlock()
	b.metrics.RecordLastSpot(sym, t.Price)
}

// Spot returns the last price when it is no older than maxAge.
func (b *SpotBook) Spot(symbol string, maxAge time.Duration) (float64, bool) {
	b.mu.RLock()
	t, ok := b.last[strings.ToUpper(symbol)]
	b.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if maxAge > 0 && b.now().Sub(t.Timestamp) > maxAge {
		return 0, false
	}
	return t.Price, true
}

// Start connects the stream and consumes it in the background.
func (b *SpotBook) Start(ctx context.Context) error {
	if err := b.stream.Connect(ctx); err != nil {
		return err
	}
	if err := b.stream.Subscribe(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.consume(runCtx)
	return nil
}

func (b *SpotBook) consume(ctx context.Context) {
	defer close(b.done)
	for {
		ticks, errs := b.stream.Read(ctx)
		b.drain(ctx, ticks, errs)
		if ctx.Err() != nil {
			return
		}
		b.metrics.RecordError("spot_stream")
		for ctx.Err() == nil {
			err := b.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			b.l.Warn("spot stream reconnect", logger.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *SpotBook) drain(ctx context.Context, ticks <-chan *models.SpotTick, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				b.l.Warn("spot stream", logger.Error(err))
				return
			}
			if !ok {
				errs = nil
			}
		case t, ok := <-ticks:
			if !ok {
				return
			}
			b.Update(t)
		}
	}
}

// Stop ends consumption and closes the stream.
func (b *SpotBook) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return b.stream.Close()
}
