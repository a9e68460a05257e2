package pricing

import (
	"errors"
	"fmt"
	"math"

	"VolSurface/internal/domain/models"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidParameter is returned for inputs outside the domain of the formula.
var ErrInvalidParameter = errors.New("pricing: invalid parameter")

func validate(s, x, tau, sigma float64) error {
	switch {
	case !(s > 0):
		return fmt.Errorf("%w: spot %v", ErrInvalidParameter, s)
	case !(x > 0):
		return fmt.Errorf("%w: strike %v", ErrInvalidParameter, x)
	case !(tau > 0):
		return fmt.Errorf("%w: time to expiry %v", ErrInvalidParameter, tau)
	case !(sigma > 0):
		return fmt.Errorf("%w: volatility %v", ErrInvalidParameter, sigma)
	}
	return nil
}

func d1d2(s, x, tau, r, q, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(tau)
	d1 := (math.Log(s/x) + (r-q+0.5*sigma*sigma)*tau) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// Price returns the Black-Scholes-Merton value of a European option with a
// continuous dividend yield q.
func Price(s, x, tau, r, q, sigma float64, t models.OptionType) (float64, error) {
	if err := validate(s, x, tau, sigma); err != nil {
		return 0, err
	}
	d1, d2 := d1d2(s, x, tau, r, q, sigma)
	fwdS := s * math.Exp(-q*tau)
	pvX := x * math.Exp(-r*tau)

	switch t {
	case models.Call:
		return fwdS*distuv.UnitNormal.CDF(d1) - pvX*distuv.UnitNormal.CDF(d2), nil
	case models.Put:
		return pvX*distuv.UnitNormal.CDF(-d2) - fwdS*distuv.UnitNormal.CDF(-d1), nil
	default:
		return 0, fmt.Errorf("%w: option type %q", ErrInvalidParameter, t)
	}
}

// Vega is dPrice/dSigma, identical for calls and puts.
func Vega(s, x, tau, r, q, sigma float64) (float64, error) {
	if err := validate(s, x, tau, sigma); err != nil {
		return 0, err
	}
	d1, _ := d1d2(s, x, tau, r, q, sigma)
	return s * math.Exp(-q*tau) * distuv.UnitNormal.Prob(d1) * math.Sqrt(tau), nil
}

// Bounds returns the no-arbitrage price interval of a European option.
func Bounds(s, x, tau, r, q float64, t models.OptionType) (lower, upper float64) {
	fwdS := s * math.Exp(-q*tau)
	pvX := x * math.Exp(-r*tau)
	if t == models.Put {
		return math.Max(0, pvX-fwdS), pvX
	}
	return math.Max(0, fwdS-pvX), fwdS
}
