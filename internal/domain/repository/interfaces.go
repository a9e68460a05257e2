package repository

import (
	"context"
	"errors"
	"time"

	"VolSurface/internal/domain/models"
)

var (
	// ErrSnapshotNotFound is returned by stores when a lookup has no result.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotExists is returned by stores that reject a second row for the same
	// (ticker, timestamp).
	ErrSnapshotExists = errors.New("snapshot already stored")
)

// QuoteSource fetches the current option chain of a ticker.
type QuoteSource interface {
	FetchChain(ctx context.Context, ticker string) (*models.QuoteTable, error)
}

// SpotStream delivers trade prints for the underlyings.
type SpotStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.SpotTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SnapshotSink accepts finished snapshots. Stores and the broker publisher both
// satisfy it.
type SnapshotSink interface {
	Save(ctx context.Context, s *models.Snapshot) error
}

// SnapshotPublisher sends snapshots to the broker.
type SnapshotPublisher interface {
	SnapshotSink
	Close() error
}

// SnapshotStore is an append-only history of snapshots keyed by (ticker, timestamp).
type SnapshotStore interface {
	SnapshotSink
	Init(ctx context.Context) error // ensure tables
	Latest(ctx context.Context, ticker string) (*models.Snapshot, error)
	TimeRange(ctx context.Context, ticker string) (*models.TimeRange, error)
	// Between returns snapshots with from <= ts <= to in ascending order, at most limit
	// rows when limit > 0.
	Between(ctx context.Context, ticker string, from, to time.Time, limit int) ([]*models.Snapshot, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// TickerRegistry tracks which underlyings the collector snapshots.
type TickerRegistry interface {
	Ensure(ctx context.Context, symbols []string) error
	SetActive(ctx context.Context, symbol string, active bool) error
	Active(ctx context.Context) ([]string, error)
	List(ctx context.Context) ([]models.Ticker, error)
}

type Metrics interface {
	RecordSnapshotStored(backend, ticker string)
	RecordError(kind string)
	RecordSurface(ticker string, points, unsolved int)
	RecordUnsolved(reason string, n int)
	RecordLastSpot(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
