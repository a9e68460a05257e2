package surface

import (
	"math"
	"testing"

	"VolSurface/internal/domain/models"
)

func TestGridLinearDoesNotExtrapolate(t *testing.T) {
	p := testParams()
	p.Grid = &GridSpec{Points: 5}

	var quotes []models.Quote
	for _, k := range []float64{90, 95, 100, 105, 110} {
		quotes = append(quotes, quoteAt(t, p, k, 30, models.Call, smile(k)))
	}
	for _, k := range []float64{95, 100, 105} {
		quotes = append(quotes, quoteAt(t, p, k, 60, models.Call, smile(k)))
	}

	s, err := Build(quotes, p)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	g := s.Grid
	if g == nil || g.Method != InterpLinear || g.Axis != models.AxisStrike || g.Type != models.Call {
		t.Fatalf("grid = %+v", g)
	}
	wantX := []float64{90, 95, 100, 105, 110}
	if len(g.X) != len(wantX) {
		t.Fatalf("x = %v", g.X)
	}
	for i := range wantX {
		if math.Abs(g.X[i]-wantX[i]) > 1e-9 {
			t.Fatalf("x = %v", g.X)
		}
	}
	if len(g.Rows) != 2 {
		t.Fatalf("rows = %d", len(g.Rows))
	}

	near, far := g.Rows[0], g.Rows[1]
	for i, x := range g.X {
		if math.Abs(near.Values[i]-smile(x)) > 1e-6 {
			t.Fatalf("near row at %v = %v, want %v", x, near.Values[i], smile(x))
		}
	}
	if !math.IsNaN(far.Values[0]) || !math.IsNaN(far.Values[4]) {
		t.Fatalf("far row extrapolated: %v", far.Values)
	}
	for i := 1; i <= 3; i++ {
		if math.Abs(far.Values[i]-smile(g.X[i])) > 1e-6 {
			t.Fatalf("far row at %v = %v", g.X[i], far.Values[i])
		}
	}
	if !(near.TimeToExpiry < far.TimeToExpiry) {
		t.Fatalf("rows out of order")
	}
}

func TestGridCubicStaysWithinObservedRange(t *testing.T) {
	p := testParams()
	p.Grid = &GridSpec{Points: 21, Method: InterpCubic, Axis: models.AxisMoneyness}

	var quotes []models.Quote
	for _, k := range []float64{85, 90, 95, 100, 105, 110, 115} {
		quotes = append(quotes, quoteAt(t, p, k, 45, models.Call, smile(k)))
	}
	s, err := Build(quotes, p)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	g := s.Grid
	if g == nil || len(g.Rows) != 1 {
		t.Fatalf("grid = %+v", g)
	}
	if math.Abs(g.X[0]-0.85) > 1e-9 || math.Abs(g.X[len(g.X)-1]-1.15) > 1e-9 {
		t.Fatalf("moneyness axis = %v", g.X)
	}
	for i, v := range g.Rows[0].Values {
		if math.IsNaN(v) {
			t.Fatalf("cell %d is empty inside the observed range", i)
		}
		if v < smile(85)-1e-3 || v > smile(115)+1e-3 {
			t.Fatalf("cell %d = %v overshoots the smile", i, v)
		}
	}
}

func TestGridSkipsTypeWithoutPoints(t *testing.T) {
	p := testParams()
	p.Grid = &GridSpec{Type: models.Put}
	quotes := []models.Quote{
		quoteAt(t, p, 95, 30, models.Call, 0.2),
		quoteAt(t, p, 100, 30, models.Call, 0.2),
	}
	s, err := Build(quotes, p)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Grid != nil {
		t.Fatalf("expected no grid for puts, got %+v", s.Grid)
	}
}

func TestResampleSinglePoint(t *testing.T) {
	out := resample([]float64{100}, []float64{0.2}, []float64{95, 100, 105}, InterpLinear)
	if !math.IsNaN(out[0]) || out[1] != 0.2 || !math.IsNaN(out[2]) {
		t.Fatalf("resample = %v", out)
	}
}

func TestSortedUnique(t *testing.T) {
	xs, ys := sortedUnique([]float64{3, 1, 2, 1}, []float64{30, 10, 20, 11})
	if len(xs) != 3 || xs[0] != 1 || xs[2] != 3 || ys[0] != 10 || ys[1] != 20 {
		t.Fatalf("xs=%v ys=%v", xs, ys)
	}
}
