package surface

import (
	"math"
	"sort"

	"VolSurface/internal/domain/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// minCubicPoints is the smallest slice the Akima spline is fitted to; thinner slices
// are interpolated linearly.
const minCubicPoints = 4

type fitPredictor interface {
	Fit(xs, ys []float64) error
	Predict(x float64) float64
}

func buildGrid(s *models.VolatilitySurface, spec GridSpec) *models.SurfaceGrid {
	if spec.Points < 2 {
		spec.Points = DefaultGridPoints
	}
	if spec.Method == "" {
		spec.Method = InterpLinear
	}
	if spec.Axis == "" {
		spec.Axis = models.AxisStrike
	}
	if spec.Type == "" {
		spec.Type = models.Call
	}

	axisValue := func(p models.ImpliedVolPoint) float64 {
		if spec.Axis == models.AxisMoneyness {
			return p.Moneyness
		}
		return p.Strike
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range s.Points {
		if p.Type != spec.Type {
			continue
		}
		x := axisValue(p)
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	if math.IsInf(lo, 1) {
		return nil
	}

	g := &models.SurfaceGrid{
		Axis:   spec.Axis,
		Method: spec.Method,
		Type:   spec.Type,
	}
	if lo == hi {
		g.X = []float64{lo}
	} else {
		g.X = floats.Span(make([]float64, spec.Points), lo, hi)
	}

	for _, exp := range s.Expiries {
		var xs, ys []float64
		tau := 0.0
		for _, p := range s.Slice(exp) {
			if p.Type != spec.Type {
				continue
			}
			xs = append(xs, axisValue(p))
			ys = append(ys, p.ImpliedVol)
			tau = p.TimeToExpiry
		}
		if len(xs) == 0 {
			continue
		}
		xs, ys = sortedUnique(xs, ys)
		g.Rows = append(g.Rows, models.GridRow{
			Expiry:       exp,
			TimeToExpiry: tau,
			Values:       resample(xs, ys, g.X, spec.Method),
		})
	}
	return g
}

// resample evaluates the slice on the grid axis without extrapolating past the first
// and last observed strike.
func resample(xs, ys, grid []float64, method string) models.Series {
	out := make(models.Series, len(grid))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(xs) == 1 {
		for i, x := range grid {
			if x == xs[0] {
				out[i] = ys[0]
			}
		}
		return out
	}

	var f fitPredictor = &interp.PiecewiseLinear{}
	if method == InterpCubic && len(xs) >= minCubicPoints {
		f = &interp.AkimaSpline{}
	}
	if err := f.Fit(xs, ys); err != nil {
		f = &interp.PiecewiseLinear{}
		if err := f.Fit(xs, ys); err != nil {
			return out
		}
	}
	first, last := xs[0], xs[len(xs)-1]
	for i, x := range grid {
		if x < first || x > last {
			continue
		}
		out[i] = f.Predict(x)
	}
	return out
}

func sortedUnique(xs, ys []float64) ([]float64, []float64) {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	sx := make([]float64, 0, len(xs))
	sy := make([]float64, 0, len(ys))
	for _, i := range idx {
		if n := len(sx); n > 0 && sx[n-1] == xs[i] {
			continue
		}
		sx = append(sx, xs[i])
		sy = append(sy, ys[i])
	}
	return sx, sy
}
