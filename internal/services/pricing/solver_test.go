package pricing

import (
	"fmt"
	"math"
	"testing"

	"VolSurface/internal/domain/models"
)

func TestSolveReferenceScenario(t *testing.T) {
	in := Input{Spot: 100, Strike: 100, Tau: 0.5, Rate: 0.05, Type: models.Call}
	price, err := Price(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, 0.2, in.Type)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	res := NewSolver(DefaultSolverConfig()).Solve(in, price)
	if !res.Solved() {
		t.Fatalf("unsolved: %s", res.Reason)
	}
	if !approxEqual(res.Vol, 0.2, 1e-6) {
		t.Fatalf("vol = %v, want 0.2", res.Vol)
	}
}

func TestSolveRoundTrip(t *testing.T) {
	solver := NewSolver(DefaultSolverConfig())
	spots := []float64{100}
	strikes := []float64{80, 95, 100, 105, 120}
	taus := []float64{0.05, 0.25, 1, 2}
	rates := []struct{ r, q float64 }{{0.015, 0.013}, {0.05, 0}, {0, 0.03}}
	vols := []float64{0.05, 0.2, 0.6, 1.5, 4.5}

	checked, flat := 0, 0
	for _, s := range spots {
		for _, x := range strikes {
			for _, tau := range taus {
				for _, rq := range rates {
					for _, vol := range vols {
						for _, typ := range []models.OptionType{models.Call, models.Put} {
							v, _ := Vega(s, x, tau, rq.r, rq.q, vol)
							price, err := Price(s, x, tau, rq.r, rq.q, vol, typ)
							if err != nil {
								t.Fatalf("price: %v", err)
							}
							in := Input{Spot: s, Strike: x, Tau: tau, Rate: rq.r, Yield: rq.q, Type: typ}
							name := fmt.Sprintf("%s K=%v tau=%v r=%v q=%v vol=%v", typ, x, tau, rq.r, rq.q, vol)
							res := solver.Solve(in, price)
							if v < 1e-2 {
								// nearly flat in vol: a result must still be the right one
								if res.Solved() && !approxEqual(res.Vol, vol, 1e-4) {
									t.Fatalf("%s: vega %g solved to %v (%s), want %v or unsolved", name, v, res.Vol, res.Method, vol)
								}
								flat++
								continue
							}
							if !res.Solved() {
								t.Fatalf("%s: unsolved %s", name, res.Reason)
							}
							if !approxEqual(res.Vol, vol, 1e-4) {
								t.Fatalf("%s: got %v (%s, %d iters)", name, res.Vol, res.Method, res.Iterations)
							}
							checked++
						}
					}
				}
			}
		}
	}
	if checked < 100 || flat == 0 {
		t.Fatalf("round trip checked %d cases, %d nearly flat", checked, flat)
	}
}

func TestSolveFixedSeed(t *testing.T) {
	cfg := DefaultSolverConfig()
	cfg.InitialVol = 0.3
	in := Input{Spot: 100, Strike: 110, Tau: 0.75, Rate: 0.015, Yield: 0.013, Type: models.Put}
	price, _ := Price(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, 0.42, in.Type)

	res := NewSolver(cfg).Solve(in, price)
	if !res.Solved() || !approxEqual(res.Vol, 0.42, 1e-6) {
		t.Fatalf("got %+v", res)
	}
	if res.Method != MethodNewton {
		t.Fatalf("expected newton, got %s", res.Method)
	}
}

func TestSolveFallsBackToBisection(t *testing.T) {
	cfg := DefaultSolverConfig()
	cfg.InitialVol = 4.9
	in := Input{Spot: 100, Strike: 100, Tau: 1, Rate: 0.05, Type: models.Call}
	price, _ := Price(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, 0.2, in.Type)

	res := NewSolver(cfg).Solve(in, price)
	if !res.Solved() {
		t.Fatalf("unsolved: %s", res.Reason)
	}
	if res.Method != MethodBisection {
		t.Fatalf("expected bisection after overshoot, got %s", res.Method)
	}
	if !approxEqual(res.Vol, 0.2, 1e-4) {
		t.Fatalf("vol = %v", res.Vol)
	}
}

func TestSolveUnsolved(t *testing.T) {
	solver := NewSolver(DefaultSolverConfig())
	atm := Input{Spot: 100, Strike: 100, Tau: 1, Type: models.Call}
	deepCall := Input{Spot: 100, Strike: 80, Tau: 0.5, Rate: 0.015, Yield: 0.013, Type: models.Call}
	lowPut := Input{Spot: 100, Strike: 90, Tau: 0.05, Rate: 0.015, Yield: 0.013, Type: models.Put}
	cases := []struct {
		name  string
		in    Input
		price float64
		want  UnsolvedReason
	}{
		{"call above spot", atm, 100.5, ReasonArbitrage},
		{"call below intrinsic", Input{Spot: 100, Strike: 80, Tau: 1, Type: models.Call}, 19.5, ReasonArbitrage},
		{"put above discounted strike", Input{Spot: 100, Strike: 100, Tau: 1, Rate: 0.05, Type: models.Put}, 96, ReasonArbitrage},
		{"expired", Input{Spot: 100, Strike: 100, Tau: 0, Type: models.Call}, 5, ReasonExpired},
		{"negative tau", Input{Spot: 100, Strike: 100, Tau: -0.1, Type: models.Call}, 5, ReasonExpired},
		{"no price", atm, 0, ReasonNoPrice},
		{"nan price", atm, math.NaN(), ReasonNoPrice},
		{"zero spot", Input{Strike: 100, Tau: 1, Type: models.Call}, 5, ReasonInvalidInput},
		{"flat price curve", Input{Spot: 100, Strike: 300, Tau: 1e-6, Type: models.Call}, 0.5, ReasonVegaUnderflow},
		{"vol above search range", atm, 99.5, ReasonOutOfRange},
		{"deep call at lower bound", deepCall, lowerBound(deepCall), ReasonOutOfRange},
		{"otm call below price tolerance", Input{Spot: 100, Strike: 120, Tau: 0.05, Rate: 0.015, Yield: 0.013, Type: models.Call}, 5e-9, ReasonOutOfRange},
		{"low vol otm put", lowPut, mustPrice(t, lowPut, 0.05), ReasonOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := solver.Solve(tc.in, tc.price)
			if res.Solved() {
				t.Fatalf("expected unsolved, got vol %v", res.Vol)
			}
			if res.Reason != tc.want {
				t.Fatalf("reason = %s, want %s", res.Reason, tc.want)
			}
		})
	}
}

func lowerBound(in Input) float64 {
	lo, _ := Bounds(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, in.Type)
	return lo
}

func mustPrice(t *testing.T, in Input, vol float64) float64 {
	t.Helper()
	p, err := Price(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, vol, in.Type)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	return p
}

func TestSolveNearZeroTimeValue(t *testing.T) {
	solver := NewSolver(DefaultSolverConfig())
	in := Input{Spot: 100, Strike: 120, Tau: 0.05, Rate: 0.015, Yield: 0.013, Type: models.Call}
	for _, vol := range []float64{0.15, 0.2, 0.3} {
		price := mustPrice(t, in, vol)
		res := solver.Solve(in, price)
		if price-lowerBound(in) <= DefaultSolverConfig().PriceTolerance {
			if res.Solved() {
				t.Fatalf("vol %v: price %g solved to %v", vol, price, res.Vol)
			}
			continue
		}
		if !res.Solved() || !approxEqual(res.Vol, vol, 1e-6) {
			t.Fatalf("vol %v: price %g got %+v", vol, price, res)
		}
	}
}

func TestSolverConfigValidate(t *testing.T) {
	if err := DefaultSolverConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultSolverConfig()
	bad.MaxVol = bad.MinVol
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty vol range")
	}
	bad = DefaultSolverConfig()
	bad.PriceTolerance = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero tolerance")
	}
}
