package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/snapshot"
	"VolSurface/pkg/logger"
)

var (
	// ErrThrottled is returned for a snapshot closer than the minimum spacing to the
	// previous accepted snapshot of its ticker.
	ErrThrottled = errors.New("pipeline: snapshot throttled")
	// ErrBuffered means the sink failed and the snapshot was queued for retry.
	ErrBuffered = errors.New("pipeline: snapshot buffered for retry")
	// ErrBufferFull means the sink failed and there was no room to retry later.
	ErrBufferFull = errors.New("pipeline: retry buffer full")
)

type pending struct {
	snap     *models.Snapshot
	attempts int
}

// SnapshotPipeline sits between the collector and a SnapshotSink. It validates,
// enforces a minimum spacing per ticker, and buffers snapshots the sink rejected with a
// transient error.
type SnapshotPipeline struct {
	sink       domrepo.SnapshotSink
	metrics    domrepo.Metrics
	l          *logger.Logger
	backend    string
	minSpacing time.Duration
	bufSize    int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration

	bufCh   chan pending
	stopCh  chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
	last    map[string]time.Time
}

type PipelineOption func(*SnapshotPipeline)

// WithMinSpacing sets the minimum time between two accepted snapshots of a ticker.
func WithMinSpacing(d time.Duration) PipelineOption {
	return func(p *SnapshotPipeline) { p.minSpacing = d }
}

// WithBufferSize sets how many failed snapshots wait for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets the number of retries of a buffered snapshot and the backoff range.
func WithRetry(max int, backoffMin, backoffMax time.Duration) PipelineOption {
	return func(p *SnapshotPipeline) {
		p.retryMax = max
		p.backoffMin = backoffMin
		p.backoffMax = backoffMax
	}
}

// WithBackend labels stored-snapshot metrics.
func WithBackend(name string) PipelineOption {
	return func(p *SnapshotPipeline) { p.backend = name }
}

func NewSnapshotPipeline(sink domrepo.SnapshotSink, metrics domrepo.Metrics, l *logger.Logger, opts ...PipelineOption) *SnapshotPipeline {
	p := &SnapshotPipeline{
		sink:       sink,
		metrics:    metrics,
		l:          l,
		backend:    "store",
		minSpacing: time.Minute,
		bufSize:    64,
		retryMax:   3,
		backoffMin: 500 * time.Millisecond,
		backoffMax: 30 * time.Second,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		last:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.backoffMin <= 0 {
		p.backoffMin = 10 * time.Millisecond
	}
	if p.backoffMax < p.backoffMin {
		p.backoffMax = p.backoffMin
	}
	p.bufCh = make(chan pending, p.bufSize)
	return p
}

// Start launches the retry loop. Process works without it, but buffered snapshots are
// then never retried.
func (p *SnapshotPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

// Stop ends the retry loop. Snapshots still buffered are logged and dropped.
func (p *SnapshotPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.done
	if n := len(p.bufCh); n > 0 {
		p.l.Warn("snapshot pipeline stopped with buffered snapshots", logger.Int("dropped", n))
	}
}

// Pending is the number of snapshots waiting for retry.
func (p *SnapshotPipeline) Pending() int { return len(p.bufCh) }

// Process hands a snapshot to the sink. A failed save is buffered and ErrBuffered is
// returned; the caller should treat that as accepted.
func (p *SnapshotPipeline) Process(ctx context.Context, s *models.Snapshot) error {
	start := time.Now()
	if err := snapshot.Validate(s); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	prev, ok := p.allow(s)
	if !ok {
		p.metrics.RecordError("pipeline_throttle")
		return fmt.Errorf("%w: %s at %s", ErrThrottled, s.Ticker, s.Timestamp.Format(time.RFC3339))
	}

	err := p.sink.Save(ctx, s)
	switch {
	case err == nil:
		p.metrics.RecordSnapshotStored(p.backend, s.Ticker)
		p.metrics.RecordLatency("pipeline_save", time.Since(start).Seconds())
		return nil
	case errors.Is(err, domrepo.ErrSnapshotExists), errors.Is(err, snapshot.ErrInvalidSnapshot):
		p.metrics.RecordError("pipeline_rejected")
		p.release(s, prev)
		return err
	}

	p.metrics.RecordError("pipeline_save")
	select {
	case p.bufCh <- pending{snap: s}:
		p.l.Warn("snapshot save failed, buffered",
			logger.String("ticker", s.Ticker),
			logger.Int("buffered", len(p.bufCh)),
			logger.Error(err))
		return fmt.Errorf("%w: %v", ErrBuffered, err)
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.release(s, prev)
		return fmt.Errorf("%w: %v", ErrBufferFull, err)
	}
}

func (p *SnapshotPipeline) flush(ctx context.Context) {
	defer close(p.done)
	for {
		var item pending
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case item = <-p.bufCh:
		}

		item.attempts++
		select {
		case <-p.stopCh:
			p.requeue(item)
			return
		case <-ctx.Done():
			p.requeue(item)
			return
		case <-time.After(p.backoff(item.attempts)):
		}

		err := p.sink.Save(ctx, item.snap)
		switch {
		case err == nil:
			p.metrics.RecordSnapshotStored(p.backend, item.snap.Ticker)
			p.l.Info("buffered snapshot stored",
				logger.String("ticker", item.snap.Ticker),
				logger.Int("attempts", item.attempts))
		case errors.Is(err, domrepo.ErrSnapshotExists):
			// an earlier attempt landed after all
		case item.attempts >= p.retryMax:
			p.metrics.RecordError("pipeline_drop")
			p.l.Error("snapshot dropped after retries",
				logger.String("ticker", item.snap.Ticker),
				logger.Time("timestamp", item.snap.Timestamp),
				logger.Int("attempts", item.attempts),
				logger.Error(err))
		default:
			p.metrics.RecordError("pipeline_flush")
			p.requeue(item)
		}
	}
}

func (p *SnapshotPipeline) requeue(item pending) {
	select {
	case p.bufCh <- item:
	default:
		p.metrics.RecordError("pipeline_buffer_drop")
	}
}

func (p *SnapshotPipeline) backoff(attempt int) time.Duration {
	d := p.backoffMin
	for i := 1; i < attempt && d < p.backoffMax; i++ {
		d *= 2
	}
	if d > p.backoffMax {
		d = p.backoffMax
	}
	return d
}

// allow enforces the per-ticker spacing on snapshot timestamps, so a replayed or
// backfilled history is throttled the same way as live collection. It reserves the
// slot for s; release hands it back when s was neither stored nor buffered.
func (p *SnapshotPipeline) allow(s *models.Snapshot) (prev time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minSpacing <= 0 {
		return time.Time{}, true
	}
	last, seen := p.last[s.Ticker]
	if seen {
		gap := s.Timestamp.Sub(last)
		if gap < 0 {
			gap = -gap
		}
		if gap < p.minSpacing {
			return time.Time{}, false
		}
	}
	p.last[s.Ticker] = s.Timestamp
	return last, true
}

func (p *SnapshotPipeline) release(s *models.Snapshot, prev time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.last[s.Ticker]; !ok || !cur.Equal(s.Timestamp) {
		return
	}
	if prev.IsZero() {
		delete(p.last, s.Ticker)
		return
	}
	p.last[s.Ticker] = prev
}
