package surface

import (
	"fmt"
	"math"
	"sort"
	"time"

	"VolSurface/internal/domain/models"
	"VolSurface/internal/services/pricing"
	"VolSurface/pkg/util"
)

type candidate struct {
	idx   int
	quote models.Quote
	key   models.PointKey
	tau   float64
	spot  float64
}

// Build turns a quote table into a volatility surface. Bad quotes become holes counted
// in the diagnostics; only malformed rows or parameters produce an error. A surface
// with no points is a valid result.
func Build(quotes []models.Quote, p Params) (*models.VolatilitySurface, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for i, q := range quotes {
		if err := checkShape(q); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedQuote, i, err)
		}
	}

	spot := p.Spot
	if !(spot > 0) && len(quotes) > 0 {
		spot = spotFromQuotes(quotes)
		if !(spot > 0) {
			return nil, fmt.Errorf("%w: no underlying price supplied", ErrInvalidBuildConfig)
		}
	}

	s := &models.VolatilitySurface{
		Ticker:          p.Ticker,
		UnderlyingPrice: spot,
		ValuationTime:   p.ValuationTime,
		RiskFreeRate:    p.RiskFreeRate,
		DividendYield:   p.DividendYield,
		Points:          []models.ImpliedVolPoint{},
		Expiries:        []time.Time{},
	}
	diag := &s.Diagnostics
	diag.Received = len(quotes)

	minStrike := spot * p.MinStrikePct / 100
	maxStrike := spot * p.MaxStrikePct / 100
	minTau := p.MinTimeToExpiry.Hours() / 24 / 365

	cands := make([]candidate, 0, len(quotes))
	for i, q := range quotes {
		if !p.acceptsType(q.Type) {
			diag.FilteredType++
			continue
		}
		tau := util.YearFraction(p.ValuationTime, q.Expiry)
		if tau <= 0 || tau <= minTau {
			diag.Expired++
			continue
		}
		if q.Strike < minStrike || q.Strike > maxStrike {
			diag.FilteredWindow++
			continue
		}
		if !liquid(q, p) {
			diag.FilteredLiquidity++
			continue
		}
		qs := q.UnderlyingPrice
		if !(qs > 0) {
			qs = spot
		}
		cands = append(cands, candidate{
			idx:   i,
			quote: q,
			key:   models.PointKey{Strike: q.Strike, Expiry: q.Expiry.Unix(), Type: q.Type},
			tau:   tau,
			spot:  qs,
		})
	}

	cands = dedupe(cands, diag)

	solver := pricing.NewSolver(p.Solver)
	for _, c := range cands {
		price, _ := c.quote.MarketPrice()
		res := solver.Solve(pricing.Input{
			Spot:   c.spot,
			Strike: c.quote.Strike,
			Tau:    c.tau,
			Rate:   p.RiskFreeRate,
			Yield:  p.DividendYield,
			Type:   c.quote.Type,
		}, price)

		if !res.Solved() {
			recordUnsolved(diag, c, price, res.Reason)
			continue
		}
		s.Points = append(s.Points, models.ImpliedVolPoint{
			Strike:       c.quote.Strike,
			Expiry:       c.quote.Expiry,
			TimeToExpiry: c.tau,
			DaysToExpiry: util.DaysBetween(p.ValuationTime, c.quote.Expiry),
			Type:         c.quote.Type,
			ImpliedVol:   res.Vol,
			Moneyness:    c.quote.Strike / c.spot,
			MarketPrice:  price,
			Method:       res.Method,
			Iterations:   res.Iterations,
		})
	}
	diag.Solved = len(s.Points)

	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Key().Less(s.Points[j].Key()) })
	sort.SliceStable(diag.UnsolvedPoints, func(i, j int) bool {
		a, b := diag.UnsolvedPoints[i], diag.UnsolvedPoints[j]
		return models.PointKey{Strike: a.Strike, Expiry: a.Expiry.Unix(), Type: a.Type}.
			Less(models.PointKey{Strike: b.Strike, Expiry: b.Expiry.Unix(), Type: b.Type})
	})

	for _, pt := range s.Points {
		if n := len(s.Expiries); n == 0 || s.Expiries[n-1].Unix() != pt.Expiry.Unix() {
			s.Expiries = append(s.Expiries, pt.Expiry)
		}
	}

	if p.Grid != nil && !s.IsEmpty() {
		s.Grid = buildGrid(s, *p.Grid)
	}
	return s, nil
}

func checkShape(q models.Quote) error {
	switch {
	case !(q.Strike > 0) || math.IsInf(q.Strike, 0):
		return fmt.Errorf("strike %v", q.Strike)
	case q.Expiry.IsZero():
		return fmt.Errorf("missing expiry")
	case !q.Type.Valid():
		return fmt.Errorf("option type %q", q.Type)
	}
	return nil
}

// spotFromQuotes takes the underlying price of the most recently quoted row.
func spotFromQuotes(quotes []models.Quote) float64 {
	spot := 0.0
	var at time.Time
	for _, q := range quotes {
		if !(q.UnderlyingPrice > 0) {
			continue
		}
		if spot == 0 || q.QuotedAt.After(at) {
			spot, at = q.UnderlyingPrice, q.QuotedAt
		}
	}
	return spot
}

func liquid(q models.Quote, p Params) bool {
	if p.MinVolume > 0 && q.Volume != nil && *q.Volume < p.MinVolume {
		return false
	}
	if p.MinOpenInterest > 0 && q.OpenInterest != nil && *q.OpenInterest < p.MinOpenInterest {
		return false
	}
	return true
}

// dedupe keeps one candidate per key, preserving input order among the winners.
func dedupe(cands []candidate, diag *models.BuildDiagnostics) []candidate {
	best := make(map[models.PointKey]int, len(cands))
	for i, c := range cands {
		j, ok := best[c.key]
		if !ok || preferred(c.quote, cands[j].quote) {
			best[c.key] = i
		}
	}
	out := make([]candidate, 0, len(best))
	for i, c := range cands {
		if best[c.key] == i {
			out = append(out, c)
		}
	}
	diag.Duplicates = len(cands) - len(out)
	return out
}

// preferred reports whether a should replace b: tighter spread first, then the more
// recent quote. Ties keep b, the earlier row.
func preferred(a, b models.Quote) bool {
	sa, okA := a.Spread()
	sb, okB := b.Spread()
	switch {
	case okA && okB && sa != sb:
		return sa < sb
	case okA != okB:
		return okA
	}
	return a.QuotedAt.After(b.QuotedAt)
}

func recordUnsolved(diag *models.BuildDiagnostics, c candidate, price float64, reason pricing.UnsolvedReason) {
	diag.Unsolved++
	if reason == pricing.ReasonArbitrage {
		diag.ArbitrageViolations++
	}
	if diag.UnsolvedByReason == nil {
		diag.UnsolvedByReason = make(map[string]int)
	}
	diag.UnsolvedByReason[string(reason)]++
	diag.UnsolvedPoints = append(diag.UnsolvedPoints, models.UnsolvedPoint{
		Strike:       c.quote.Strike,
		Expiry:       c.quote.Expiry,
		TimeToExpiry: c.tau,
		Type:         c.quote.Type,
		MarketPrice:  price,
		Reason:       string(reason),
	})
}
