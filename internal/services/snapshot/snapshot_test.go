package snapshot

import (
	"errors"
	"math"
	"testing"
	"time"

	"VolSurface/internal/domain/models"
)

var t0 = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

func point(strike float64, days int, typ models.OptionType, vol float64) models.ImpliedVolPoint {
	exp := t0.AddDate(0, 0, days)
	return models.ImpliedVolPoint{
		Strike:       strike,
		Expiry:       exp,
		TimeToExpiry: float64(days) / 365,
		DaysToExpiry: days,
		Type:         typ,
		ImpliedVol:   vol,
		Moneyness:    strike / 100,
	}
}

func surfaceOf(ticker string, spot float64, points ...models.ImpliedVolPoint) *models.VolatilitySurface {
	s := &models.VolatilitySurface{
		Ticker:          ticker,
		UnderlyingPrice: spot,
		ValuationTime:   t0,
		Points:          points,
	}
	for _, p := range points {
		if n := len(s.Expiries); n == 0 || !s.Expiries[n-1].Equal(p.Expiry) {
			s.Expiries = append(s.Expiries, p.Expiry)
		}
	}
	return s
}

func mustNew(t *testing.T, s *models.VolatilitySurface, ts time.Time) *models.Snapshot {
	t.Helper()
	snap, err := New(s, ts)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	return snap
}

func TestNewIsolatedFromCaller(t *testing.T) {
	s := surfaceOf("SPY", 100, point(100, 30, models.Call, 0.2))
	snap := mustNew(t, s, t0)
	s.Points[0].ImpliedVol = 0.9
	s.Ticker = "QQQ"

	if snap.Surface.Points[0].ImpliedVol != 0.2 || snap.Ticker != "SPY" {
		t.Fatalf("snapshot changed with its source: %+v", snap.Surface.Points[0])
	}
	if snap.ID == "" {
		t.Fatalf("expected an id")
	}
	if other := mustNew(t, s, t0); other.ID == snap.ID {
		t.Fatalf("ids should be unique")
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		s    *models.VolatilitySurface
		ts   time.Time
	}{
		{"nil surface", nil, t0},
		{"no ticker", surfaceOf("", 100), t0},
		{"no time", &models.VolatilitySurface{Ticker: "SPY"}, time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.s, tc.ts); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	s := surfaceOf("SPY", 101.5,
		point(95, 30, models.Call, 0.22),
		point(100, 30, models.Call, 0.2),
		point(100, 30, models.Put, 0.21),
	)
	s.Grid = &models.SurfaceGrid{
		Axis:   models.AxisStrike,
		Method: "linear",
		Type:   models.Call,
		X:      []float64{90, 95, 100},
		Rows: []models.GridRow{{
			Expiry:       t0.AddDate(0, 0, 30),
			TimeToExpiry: 30.0 / 365,
			Values:       models.Series{math.NaN(), 0.22, 0.2},
		}},
	}
	s.Diagnostics = models.BuildDiagnostics{Received: 4, Solved: 3, Unsolved: 1, UnsolvedByReason: map[string]int{"no_price": 1}}
	snap := mustNew(t, s, t0)

	b, err := Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != snap.ID || got.Ticker != "SPY" || !got.Timestamp.Equal(snap.Timestamp) {
		t.Fatalf("identity lost: %+v", got)
	}
	if len(got.Surface.Points) != 3 || got.Surface.Points[2].Type != models.Put || got.Surface.UnderlyingPrice != 101.5 {
		t.Fatalf("points lost: %+v", got.Surface.Points)
	}
	row := got.Surface.Grid.Rows[0].Values
	if !math.IsNaN(row[0]) || row[1] != 0.22 {
		t.Fatalf("grid row = %v", row)
	}
	if got.Surface.Diagnostics.UnsolvedByReason["no_price"] != 1 {
		t.Fatalf("diagnostics lost: %+v", got.Surface.Diagnostics)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"garbage":         "{",
		"unknown version": `{"version":7,"snapshot":{"ticker":"SPY","timestamp":"2025-03-03T15:00:00Z","surface":{}}}`,
		"no surface":      `{"version":1,"snapshot":{"ticker":"SPY","timestamp":"2025-03-03T15:00:00Z"}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(in)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDiff(t *testing.T) {
	a := mustNew(t, surfaceOf("SPY", 100,
		point(95, 30, models.Call, 0.22),
		point(100, 30, models.Call, 0.20),
		point(105, 30, models.Call, 0.19),
	), t0)
	b := mustNew(t, surfaceOf("SPY", 102,
		point(100, 30, models.Call, 0.20),
		point(105, 30, models.Call, 0.18),
		point(110, 30, models.Call, 0.18),
		point(100, 60, models.Call, 0.21),
	), t0.Add(time.Hour))

	d, err := Diff(a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(d.Removed) != 1 || d.Removed[0].Strike != 95 {
		t.Fatalf("removed = %+v", d.Removed)
	}
	if len(d.Added) != 2 || d.Added[0].Strike != 110 || d.Added[1].DaysToExpiry != 60 {
		t.Fatalf("added = %+v", d.Added)
	}
	if len(d.Changed) != 1 || d.Changed[0].Key.Strike != 105 || math.Abs(d.Changed[0].Delta+0.01) > 1e-12 {
		t.Fatalf("changed = %+v", d.Changed)
	}
	if d.Unchanged != 1 || d.SpotDelta != 2 || d.Empty() {
		t.Fatalf("diff = %+v", d)
	}

	same, err := Diff(a, a)
	if err != nil || !same.Empty() || same.Unchanged != 3 {
		t.Fatalf("self diff = %+v, %v", same, err)
	}
}

func TestDiffTickerMismatch(t *testing.T) {
	a := mustNew(t, surfaceOf("SPY", 100), t0)
	b := mustNew(t, surfaceOf("QQQ", 100), t0)
	if _, err := Diff(a, b); !errors.Is(err, ErrTickerMismatch) {
		t.Fatalf("got %v", err)
	}
}

func TestReplay(t *testing.T) {
	s1 := mustNew(t, surfaceOf("SPY", 100, point(100, 30, models.Call, 0.20)), t0.Add(2*time.Hour))
	s2 := mustNew(t, surfaceOf("SPY", 100, point(100, 30, models.Call, 0.25)), t0)
	s3 := mustNew(t, surfaceOf("SPY", 100, point(100, 30, models.Call, 0.30)), t0.Add(time.Hour))
	in := []*models.Snapshot{s1, s2, s3}

	frames, err := Replay(in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if in[0] != s1 || in[1] != s2 || in[2] != s3 {
		t.Fatalf("input reordered")
	}
	want := []*models.Snapshot{s2, s3, s1}
	for i, f := range frames {
		if f.Snapshot != want[i] || f.Index != i {
			t.Fatalf("frame %d = %+v", i, f)
		}
	}
	if frames[0].Diff != nil {
		t.Fatalf("first frame should have no diff")
	}
	if d := frames[2].Diff; len(d.Changed) != 1 || math.Abs(d.Changed[0].Delta+0.1) > 1e-12 {
		t.Fatalf("last diff = %+v", d)
	}

	empty, err := Replay(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty replay = %v, %v", empty, err)
	}
}

func TestReplayMixedTickers(t *testing.T) {
	a := mustNew(t, surfaceOf("SPY", 100), t0)
	b := mustNew(t, surfaceOf("QQQ", 100), t0.Add(time.Hour))
	if _, err := Replay([]*models.Snapshot{a, b}); !errors.Is(err, ErrTickerMismatch) {
		t.Fatalf("got %v", err)
	}
}

func TestTermStructure(t *testing.T) {
	s := surfaceOf("SPY", 100,
		point(95, 30, models.Call, 0.22),
		point(101, 30, models.Call, 0.20),
		point(99, 30, models.Put, 0.5),
		point(90, 60, models.Call, 0.25),
		point(110, 60, models.Call, 0.21),
		point(100, 90, models.Put, 0.3),
	)
	ts := TermStructure(s, models.Call)
	if len(ts) != 2 {
		t.Fatalf("term structure = %+v", ts)
	}
	if ts[0].Strike != 101 || ts[0].ImpliedVol != 0.20 {
		t.Fatalf("30d atm = %+v", ts[0])
	}
	if ts[1].Strike != 90 {
		t.Fatalf("60d tie should pick the lower strike: %+v", ts[1])
	}
	if got := TermStructure(nil, models.Call); len(got) != 0 {
		t.Fatalf("nil surface = %v", got)
	}
}
