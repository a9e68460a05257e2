package models

import "time"

// SnapshotKey is the storage identity of a snapshot.
type SnapshotKey struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a surface persisted at a point in time.
type Snapshot struct {
	ID        string             `json:"id"`
	Ticker    string             `json:"ticker"`
	Timestamp time.Time          `json:"timestamp"`
	Surface   *VolatilitySurface `json:"surface"`
}

func (s *Snapshot) Key() SnapshotKey {
	return SnapshotKey{Ticker: s.Ticker, Timestamp: s.Timestamp}
}

// PointChange is a point present in both snapshots of a diff.
type PointChange struct {
	Key    PointKey `json:"key"`
	Before float64  `json:"before"`
	After  float64  `json:"after"`
	Delta  float64  `json:"delta"`
}

// SnapshotDiff compares two snapshots of one ticker point by point.
type SnapshotDiff struct {
	Ticker    string            `json:"ticker"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Added     []ImpliedVolPoint `json:"added"`
	Removed   []ImpliedVolPoint `json:"removed"`
	Changed   []PointChange     `json:"changed"`
	Unchanged int               `json:"unchanged"`
	SpotDelta float64           `json:"spot_delta"`
}

// Empty reports a diff with no added, removed or changed points.
func (d *SnapshotDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ReplayFrame is one step of a replay. Diff is nil for the first frame.
type ReplayFrame struct {
	Index    int           `json:"index"`
	Snapshot *Snapshot     `json:"snapshot"`
	Diff     *SnapshotDiff `json:"diff,omitempty"`
}

// TimeRange is the earliest and latest snapshot stored for a ticker.
type TimeRange struct {
	Ticker   string    `json:"ticker"`
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
	Count    int64     `json:"count"`
}

// TermPoint is the at-the-money vol of one expiry.
type TermPoint struct {
	Expiry       time.Time `json:"expiry"`
	TimeToExpiry float64   `json:"time_to_expiry"`
	Strike       float64   `json:"strike"`
	ImpliedVol   float64   `json:"implied_vol"`
}

// Ticker is a registry entry.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SpotTick is a trade print for an underlying.
type SpotTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
