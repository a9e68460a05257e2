package snapshot

import (
	"fmt"
	"math"
	"sort"

	"VolSurface/internal/domain/models"
)

// DefaultDiffTolerance is the smallest vol move reported as a change.
const DefaultDiffTolerance = 1e-6

// Diff compares two snapshots of one ticker with DefaultDiffTolerance.
func Diff(a, b *models.Snapshot) (*models.SnapshotDiff, error) {
	return DiffWithTolerance(a, b, DefaultDiffTolerance)
}

// DiffWithTolerance matches points on (strike, expiry, type). Points whose vol moved by
// no more than tol count as unchanged. All lists come back in key order.
func DiffWithTolerance(a, b *models.Snapshot, tol float64) (*models.SnapshotDiff, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}
	if err := Validate(b); err != nil {
		return nil, err
	}
	if a.Ticker != b.Ticker {
		return nil, fmt.Errorf("%w: %s vs %s", ErrTickerMismatch, a.Ticker, b.Ticker)
	}
	if tol < 0 {
		tol = 0
	}

	before := index(a.Surface.Points)
	after := index(b.Surface.Points)

	d := &models.SnapshotDiff{
		Ticker:    a.Ticker,
		From:      a.Timestamp,
		To:        b.Timestamp,
		Added:     []models.ImpliedVolPoint{},
		Removed:   []models.ImpliedVolPoint{},
		Changed:   []models.PointChange{},
		SpotDelta: b.Surface.UnderlyingPrice - a.Surface.UnderlyingPrice,
	}
	for _, k := range sortedKeys(before) {
		old := before[k]
		cur, ok := after[k]
		if !ok {
			d.Removed = append(d.Removed, old)
			continue
		}
		delta := cur.ImpliedVol - old.ImpliedVol
		if math.Abs(delta) <= tol {
			d.Unchanged++
			continue
		}
		d.Changed = append(d.Changed, models.PointChange{Key: k, Before: old.ImpliedVol, After: cur.ImpliedVol, Delta: delta})
	}
	for _, k := range sortedKeys(after) {
		if _, ok := before[k]; !ok {
			d.Added = append(d.Added, after[k])
		}
	}
	return d, nil
}

func index(points []models.ImpliedVolPoint) map[models.PointKey]models.ImpliedVolPoint {
	m := make(map[models.PointKey]models.ImpliedVolPoint, len(points))
	for _, p := range points {
		m[p.Key()] = p
	}
	return m
}

func sortedKeys(m map[models.PointKey]models.ImpliedVolPoint) []models.PointKey {
	keys := make([]models.PointKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
