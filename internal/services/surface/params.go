package surface

import (
	"errors"
	"fmt"
	"math"
	"time"

	"VolSurface/internal/domain/models"
	"VolSurface/internal/services/pricing"
)

var (
	// ErrMalformedQuote is returned when a quote lacks a strike, an expiry or a type.
	ErrMalformedQuote = errors.New("surface: malformed quote")
	// ErrInvalidBuildConfig is returned for parameters that make a build meaningless.
	ErrInvalidBuildConfig = errors.New("surface: invalid build config")
)

const (
	InterpLinear = "linear"
	InterpCubic  = "cubic"

	DefaultGridPoints = 50
)

// GridSpec asks Build to resample the surface onto a regular strike axis.
type GridSpec struct {
	Points int
	Method string
	Axis   models.GridAxis
	Type   models.OptionType
}

// Params are the per-build inputs. Rates are continuously compounded decimals;
// strike percentages are percent of spot (80 means 0.8 × spot).
type Params struct {
	Ticker          string
	ValuationTime   time.Time
	Spot            float64
	RiskFreeRate    float64
	DividendYield   float64
	MinStrikePct    float64
	MaxStrikePct    float64
	MinVolume       int64
	MinOpenInterest int64
	MinTimeToExpiry time.Duration
	OptionTypes     []models.OptionType
	Solver          pricing.SolverConfig
	Grid            *GridSpec
}

// DefaultParams mirrors the defaults of the collector configuration.
func DefaultParams(ticker string, valuation time.Time) Params {
	return Params{
		Ticker:          ticker,
		ValuationTime:   valuation,
		RiskFreeRate:    0.015,
		DividendYield:   0.013,
		MinStrikePct:    80,
		MaxStrikePct:    120,
		MinTimeToExpiry: 7 * 24 * time.Hour,
		Solver:          pricing.DefaultSolverConfig(),
	}
}

func (p Params) Validate() error {
	if p.ValuationTime.IsZero() {
		return fmt.Errorf("%w: valuation time is required", ErrInvalidBuildConfig)
	}
	if !finite(p.RiskFreeRate) || !finite(p.DividendYield) {
		return fmt.Errorf("%w: rates must be finite, got r=%v q=%v", ErrInvalidBuildConfig, p.RiskFreeRate, p.DividendYield)
	}
	if !finite(p.MinStrikePct) || !finite(p.MaxStrikePct) || p.MinStrikePct < 0 || !(p.MaxStrikePct > p.MinStrikePct) {
		return fmt.Errorf("%w: strike window [%v%%, %v%%]", ErrInvalidBuildConfig, p.MinStrikePct, p.MaxStrikePct)
	}
	if p.DividendYield < 0 {
		return fmt.Errorf("%w: dividend yield %v", ErrInvalidBuildConfig, p.DividendYield)
	}
	if p.MinTimeToExpiry < 0 {
		return fmt.Errorf("%w: negative minimum time to expiry", ErrInvalidBuildConfig)
	}
	for _, t := range p.OptionTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: option type %q", ErrInvalidBuildConfig, t)
		}
	}
	if err := p.Solver.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBuildConfig, err)
	}
	if g := p.Grid; g != nil {
		if g.Method != "" && g.Method != InterpLinear && g.Method != InterpCubic {
			return fmt.Errorf("%w: grid method %q", ErrInvalidBuildConfig, g.Method)
		}
		if g.Axis != "" && g.Axis != models.AxisStrike && g.Axis != models.AxisMoneyness {
			return fmt.Errorf("%w: grid axis %q", ErrInvalidBuildConfig, g.Axis)
		}
		if g.Type != "" && !g.Type.Valid() {
			return fmt.Errorf("%w: grid option type %q", ErrInvalidBuildConfig, g.Type)
		}
	}
	return nil
}

func (p Params) acceptsType(t models.OptionType) bool {
	if len(p.OptionTypes) == 0 {
		return true
	}
	for _, ot := range p.OptionTypes {
		if ot == t {
			return true
		}
	}
	return false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
