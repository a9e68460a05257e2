package pricing

import (
	"fmt"
	"math"

	"VolSurface/internal/domain/models"
)

// UnsolvedReason explains why a quote has no implied volatility.
type UnsolvedReason string

const (
	ReasonNoPrice       UnsolvedReason = "no_price"
	ReasonExpired       UnsolvedReason = "expired"
	ReasonInvalidInput  UnsolvedReason = "invalid_input"
	ReasonArbitrage     UnsolvedReason = "arbitrage_violation"
	ReasonVegaUnderflow UnsolvedReason = "vega_underflow"
	ReasonOutOfRange    UnsolvedReason = "out_of_range"
	ReasonNotConverged  UnsolvedReason = "not_converged"
)

const (
	MethodNewton    = "newton"
	MethodBisection = "bisection"
)

// Input is everything the solver needs about one option besides its price.
type Input struct {
	Spot   float64
	Strike float64
	Tau    float64
	Rate   float64
	Yield  float64
	Type   models.OptionType
}

// Result is either a volatility or an unsolved reason, never both.
type Result struct {
	Vol        float64
	Iterations int
	Method     string
	Reason     UnsolvedReason
}

func (r Result) Solved() bool { return r.Reason == "" }

func unsolved(reason UnsolvedReason, iterations int) Result {
	return Result{Reason: reason, Iterations: iterations}
}

// SolverConfig holds every tolerance and bound the solver uses.
type SolverConfig struct {
	// PriceTolerance is the convergence threshold on |model - market| in price units.
	// A residual must also be within VolTolerance once divided by vega.
	PriceTolerance float64 `yaml:"price_tolerance" default:"1e-8"`
	// VolTolerance stops bisection once the bracket is narrower than this.
	VolTolerance        float64 `yaml:"vol_tolerance" default:"1e-10"`
	MaxIterations       int     `yaml:"max_iterations" default:"100"`
	MaxBisectIterations int     `yaml:"max_bisect_iterations" default:"200"`
	MinVol              float64 `yaml:"min_vol" default:"0.0001"`
	MaxVol              float64 `yaml:"max_vol" default:"5"`
	// InitialVol seeds Newton-Raphson. Zero selects the Brenner-Subrahmanyam estimate.
	InitialVol float64 `yaml:"initial_vol"`
	// MinVega below which a Newton step is considered flat.
	MinVega          float64 `yaml:"min_vega" default:"1e-8"`
	MaxFlatVegaSteps int     `yaml:"max_flat_vega_steps" default:"3"`
}

// DefaultSolverConfig returns the documented solver constants.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		PriceTolerance:      1e-8,
		VolTolerance:        1e-10,
		MaxIterations:       100,
		MaxBisectIterations: 200,
		MinVol:              1e-4,
		MaxVol:              5.0,
		MinVega:             1e-8,
		MaxFlatVegaSteps:    3,
	}
}

func (c SolverConfig) Validate() error {
	if !(c.PriceTolerance > 0) || !(c.VolTolerance > 0) {
		return fmt.Errorf("solver tolerances must be positive")
	}
	if c.MaxIterations < 0 || c.MaxBisectIterations <= 0 {
		return fmt.Errorf("solver iteration limits invalid: newton=%d bisection=%d", c.MaxIterations, c.MaxBisectIterations)
	}
	if !(c.MinVol > 0) || !(c.MaxVol > c.MinVol) {
		return fmt.Errorf("solver vol range invalid: [%v, %v]", c.MinVol, c.MaxVol)
	}
	if c.InitialVol < 0 {
		return fmt.Errorf("solver initial vol must not be negative")
	}
	if c.MinVega < 0 || c.MaxFlatVegaSteps <= 0 {
		return fmt.Errorf("solver vega guard invalid")
	}
	return nil
}

// Solver inverts Price with Newton-Raphson and falls back to bisection. The zero value
// is not usable; build it with NewSolver.
type Solver struct {
	cfg SolverConfig
}

func NewSolver(cfg SolverConfig) Solver { return Solver{cfg: cfg} }

func (s Solver) Config() SolverConfig { return s.cfg }

// Solve returns the volatility at which the model price equals marketPrice.
func (s Solver) Solve(in Input, marketPrice float64) Result {
	cfg := s.cfg
	if !(in.Tau > 0) {
		return unsolved(ReasonExpired, 0)
	}
	if !(marketPrice > 0) || math.IsInf(marketPrice, 0) {
		return unsolved(ReasonNoPrice, 0)
	}
	if !(in.Spot > 0) || !(in.Strike > 0) || !in.Type.Valid() {
		return unsolved(ReasonInvalidInput, 0)
	}
	lower, upper := Bounds(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, in.Type)
	if marketPrice < lower || marketPrice > upper {
		return unsolved(ReasonArbitrage, 0)
	}

	// inputs are validated above, so Price and Vega cannot fail inside the bracket
	priceAt := func(sigma float64) float64 {
		p, _ := Price(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, sigma, in.Type)
		return p
	}
	vegaAt := func(sigma float64) float64 {
		v, _ := Vega(in.Spot, in.Strike, in.Tau, in.Rate, in.Yield, sigma)
		return v
	}

	lo, hi := cfg.MinVol, cfg.MaxVol
	pLo, pHi := priceAt(lo), priceAt(hi)
	if pHi-pLo <= cfg.PriceTolerance {
		return unsolved(ReasonVegaUnderflow, 0)
	}
	// a price within tolerance of either end of the search range pins no vol inside it
	if marketPrice-pLo <= cfg.PriceTolerance || pHi-marketPrice <= cfg.PriceTolerance {
		return unsolved(ReasonOutOfRange, 0)
	}

	// the residual must be small in vol terms too, or tiny prices would match any sigma
	converged := func(sigma, diff float64) bool {
		d := math.Abs(diff)
		return d < cfg.PriceTolerance && d <= vegaAt(sigma)*cfg.VolTolerance
	}

	sigma := s.seed(in, marketPrice, lower)
	if sigma <= lo || sigma >= hi {
		sigma = 0.5 * (lo + hi)
	}

	flat, n := 0, 0
	stalled := false
	for n < cfg.MaxIterations {
		n++
		diff := priceAt(sigma) - marketPrice
		if converged(sigma, diff) {
			return Result{Vol: sigma, Iterations: n, Method: MethodNewton}
		}
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		v := vegaAt(sigma)
		if v < cfg.MinVega {
			flat++
			if flat >= cfg.MaxFlatVegaSteps {
				stalled = true
				break
			}
			sigma = 0.5 * (lo + hi)
			continue
		}
		flat = 0

		next := sigma - diff/v
		if next <= lo || next >= hi || math.IsNaN(next) {
			break
		}
		sigma = math.Max(next, cfg.MinVol)
	}

	return s.bisect(lo, hi, marketPrice, priceAt, converged, n, stalled)
}

func (s Solver) bisect(lo, hi, target float64, priceAt func(float64) float64, converged func(sigma, diff float64) bool, n int, stalled bool) Result {
	cfg := s.cfg
	for j := 0; j < cfg.MaxBisectIterations; j++ {
		n++
		mid := 0.5 * (lo + hi)
		diff := priceAt(mid) - target
		if hi-lo < cfg.VolTolerance || converged(mid, diff) {
			return Result{Vol: mid, Iterations: n, Method: MethodBisection}
		}
		if diff > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	if stalled {
		return unsolved(ReasonVegaUnderflow, n)
	}
	return unsolved(ReasonNotConverged, n)
}

// seed is the Brenner-Subrahmanyam approximation applied to time value, or the
// configured constant.
func (s Solver) seed(in Input, price, intrinsic float64) float64 {
	if s.cfg.InitialVol > 0 {
		return s.cfg.InitialVol
	}
	fwdS := in.Spot * math.Exp(-in.Yield*in.Tau)
	return math.Sqrt(2*math.Pi/in.Tau) * (price - intrinsic) / fwdS
}
