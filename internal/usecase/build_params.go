package usecase

import (
	"fmt"
	"strings"
	"time"

	"VolSurface/internal/domain/models"
	"VolSurface/internal/services/pricing"
	"VolSurface/internal/services/surface"
	"VolSurface/pkg/config"
)

// BuildRequest carries per-request overrides of the configured build parameters. Nil
// pointers and zero values keep the configured value.
type BuildRequest struct {
	Ticker        string
	RiskFreeRate  *float64
	DividendYield *float64
	MinStrikePct  *float64
	MaxStrikePct  *float64
	GridPoints    int
	GridMethod    string
	GridAxis      string
	GridType      string
	NoGrid        bool
}

// cacheKey identifies the surface this request produces.
func (r BuildRequest) cacheKey() string {
	f := func(p *float64) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprintf("%g", *p)
	}
	return strings.Join([]string{
		r.Ticker, f(r.RiskFreeRate), f(r.DividendYield), f(r.MinStrikePct), f(r.MaxStrikePct),
		fmt.Sprint(r.GridPoints), r.GridMethod, r.GridAxis, r.GridType, fmt.Sprint(r.NoGrid),
	}, ":")
}

// ParamsFactory turns configuration plus request overrides into builder parameters.
type ParamsFactory struct {
	Surface config.Surface
	Solver  config.Solver
}

func (f ParamsFactory) solver() pricing.SolverConfig {
	s := f.Solver
	return pricing.SolverConfig{
		PriceTolerance:      s.PriceTolerance,
		VolTolerance:        s.VolTolerance,
		MaxIterations:       s.MaxIterations,
		MaxBisectIterations: s.MaxBisectIterations,
		MinVol:              s.MinVol,
		MaxVol:              s.MaxVol,
		InitialVol:          s.InitialVol,
		MinVega:             s.MinVega,
		MaxFlatVegaSteps:    s.MaxFlatVegaSteps,
	}
}

// Params builds the parameters for one ticker valued at valuation.
func (f ParamsFactory) Params(req BuildRequest, valuation time.Time) (surface.Params, error) {
	c := f.Surface
	p := surface.DefaultParams(req.Ticker, valuation)
	p.RiskFreeRate = c.RiskFreeRate
	p.DividendYield = c.DividendYield
	p.MinStrikePct = c.MinStrikePct
	p.MaxStrikePct = c.MaxStrikePct
	p.MinTimeToExpiry = time.Duration(c.MinDaysToExpiry) * 24 * time.Hour
	p.MinVolume = c.MinVolume
	p.MinOpenInterest = c.MinOpenInterest
	p.Solver = f.solver()
	for _, s := range c.OptionTypes {
		t, err := models.ParseOptionType(s)
		if err != nil {
			return surface.Params{}, fmt.Errorf("%w: %v", surface.ErrInvalidBuildConfig, err)
		}
		p.OptionTypes = append(p.OptionTypes, t)
	}

	if req.RiskFreeRate != nil {
		p.RiskFreeRate = *req.RiskFreeRate
	}
	if req.DividendYield != nil {
		p.DividendYield = *req.DividendYield
	}
	if req.MinStrikePct != nil {
		p.MinStrikePct = *req.MinStrikePct
	}
	if req.MaxStrikePct != nil {
		p.MaxStrikePct = *req.MaxStrikePct
	}

	if !req.NoGrid && (c.GridPoints > 0 || req.GridPoints > 0) {
		g := &surface.GridSpec{Points: c.GridPoints, Method: c.GridMethod}
		if req.GridPoints > 0 {
			g.Points = req.GridPoints
		}
		if req.GridMethod != "" {
			g.Method = req.GridMethod
		}
		if req.GridAxis != "" {
			g.Axis = models.GridAxis(req.GridAxis)
		}
		if req.GridType != "" {
			t, err := models.ParseOptionType(req.GridType)
			if err != nil {
				return surface.Params{}, fmt.Errorf("%w: %v", surface.ErrInvalidBuildConfig, err)
			}
			g.Type = t
		}
		p.Grid = g
	}
	return p, p.Validate()
}
