package snapshot

import (
	"errors"
	"fmt"
	"time"

	"VolSurface/internal/domain/models"

	"github.com/google/uuid"
)

var (
	// ErrTickerMismatch is returned when diffing snapshots of two different tickers.
	ErrTickerMismatch = errors.New("snapshot: ticker mismatch")
	// ErrInvalidSnapshot is returned for snapshots without a ticker, timestamp or surface.
	ErrInvalidSnapshot = errors.New("snapshot: invalid snapshot")
)

// New captures a surface at ts. The surface is deep copied so later changes by the
// caller never reach the snapshot.
func New(s *models.VolatilitySurface, ts time.Time) (*models.Snapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil surface", ErrInvalidSnapshot)
	}
	if s.Ticker == "" {
		return nil, fmt.Errorf("%w: surface has no ticker", ErrInvalidSnapshot)
	}
	if ts.IsZero() {
		ts = s.ValuationTime
	}
	if ts.IsZero() {
		return nil, fmt.Errorf("%w: zero timestamp", ErrInvalidSnapshot)
	}
	return &models.Snapshot{
		ID:        uuid.NewString(),
		Ticker:    s.Ticker,
		Timestamp: ts.UTC(),
		Surface:   s.Clone(),
	}, nil
}

// Validate checks the fields a store relies on.
func Validate(s *models.Snapshot) error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	case s.Ticker == "":
		return fmt.Errorf("%w: missing ticker", ErrInvalidSnapshot)
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSnapshot)
	case s.Surface == nil:
		return fmt.Errorf("%w: missing surface", ErrInvalidSnapshot)
	case s.Surface.Ticker != "" && s.Surface.Ticker != s.Ticker:
		return fmt.Errorf("%w: surface ticker %q under %q", ErrInvalidSnapshot, s.Surface.Ticker, s.Ticker)
	}
	return nil
}
