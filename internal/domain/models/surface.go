package models

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// PointKey identifies a point on a surface. Expiry is stored as unix seconds so the
// key stays comparable regardless of time.Location.
type PointKey struct {
	Strike float64    `json:"strike"`
	Expiry int64      `json:"expiry"`
	Type   OptionType `json:"type"`
}

// Less orders keys by expiry, then strike, then type.
func (k PointKey) Less(o PointKey) bool {
	if k.Expiry != o.Expiry {
		return k.Expiry < o.Expiry
	}
	if k.Strike != o.Strike {
		return k.Strike < o.Strike
	}
	return k.Type < o.Type
}

// ImpliedVolPoint is a solved quote.
type ImpliedVolPoint struct {
	Strike       float64    `json:"strike"`
	Expiry       time.Time  `json:"expiry"`
	TimeToExpiry float64    `json:"time_to_expiry"`
	DaysToExpiry int        `json:"days_to_expiry"`
	Type         OptionType `json:"type"`
	ImpliedVol   float64    `json:"implied_vol"`
	Moneyness    float64    `json:"moneyness"`
	MarketPrice  float64    `json:"market_price"`
	Method       string     `json:"method"`
	Iterations   int        `json:"iterations"`
}

// Key returns the identity of the point.
func (p ImpliedVolPoint) Key() PointKey {
	return PointKey{Strike: p.Strike, Expiry: p.Expiry.Unix(), Type: p.Type}
}

// UnsolvedPoint is a quote that passed filtering but has no implied vol.
type UnsolvedPoint struct {
	Strike       float64    `json:"strike"`
	Expiry       time.Time  `json:"expiry"`
	TimeToExpiry float64    `json:"time_to_expiry"`
	Type         OptionType `json:"type"`
	MarketPrice  float64    `json:"market_price,omitempty"`
	Reason       string     `json:"reason"`
}

// BuildDiagnostics counts what happened to every input row of a build.
type BuildDiagnostics struct {
	Received            int             `json:"received"`
	FilteredType        int             `json:"filtered_type"`
	FilteredWindow      int             `json:"filtered_window"`
	FilteredLiquidity   int             `json:"filtered_liquidity"`
	Expired             int             `json:"expired"`
	Duplicates          int             `json:"duplicates"`
	Solved              int             `json:"solved"`
	Unsolved            int             `json:"unsolved"`
	ArbitrageViolations int             `json:"arbitrage_violations"`
	UnsolvedByReason    map[string]int  `json:"unsolved_by_reason,omitempty"`
	UnsolvedPoints      []UnsolvedPoint `json:"unsolved_points,omitempty"`
}

// VolatilitySurface is the output of a build. It is not modified after construction;
// consumers that need to change it work on a Clone.
type VolatilitySurface struct {
	Ticker          string            `json:"ticker"`
	UnderlyingPrice float64           `json:"underlying_price"`
	ValuationTime   time.Time         `json:"valuation_time"`
	RiskFreeRate    float64           `json:"risk_free_rate"`
	DividendYield   float64           `json:"dividend_yield"`
	Points          []ImpliedVolPoint `json:"points"`
	Expiries        []time.Time       `json:"expiries"`
	Grid            *SurfaceGrid      `json:"grid,omitempty"`
	Diagnostics     BuildDiagnostics  `json:"diagnostics"`
}

// IsEmpty reports a surface with no solved points.
func (s *VolatilitySurface) IsEmpty() bool { return s == nil || len(s.Points) == 0 }

// Lookup finds a point by key.
func (s *VolatilitySurface) Lookup(k PointKey) (ImpliedVolPoint, bool) {
	if s == nil {
		return ImpliedVolPoint{}, false
	}
	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Key().Less(k) })
	if i < len(s.Points) && s.Points[i].Key() == k {
		return s.Points[i], true
	}
	return ImpliedVolPoint{}, false
}

// Slice returns the points of one expiry ordered by strike.
func (s *VolatilitySurface) Slice(expiry time.Time) []ImpliedVolPoint {
	if s == nil {
		return nil
	}
	var out []ImpliedVolPoint
	for _, p := range s.Points {
		if p.Expiry.Unix() == expiry.Unix() {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *VolatilitySurface) Clone() *VolatilitySurface {
	if s == nil {
		return nil
	}
	c := *s
	c.Points = append([]ImpliedVolPoint(nil), s.Points...)
	c.Expiries = append([]time.Time(nil), s.Expiries...)
	c.Diagnostics.UnsolvedPoints = append([]UnsolvedPoint(nil), s.Diagnostics.UnsolvedPoints...)
	if s.Diagnostics.UnsolvedByReason != nil {
		c.Diagnostics.UnsolvedByReason = make(map[string]int, len(s.Diagnostics.UnsolvedByReason))
		for k, v := range s.Diagnostics.UnsolvedByReason {
			c.Diagnostics.UnsolvedByReason[k] = v
		}
	}
	if s.Grid != nil {
		g := *s.Grid
		g.X = append([]float64(nil), s.Grid.X...)
		g.Rows = make([]GridRow, len(s.Grid.Rows))
		for i, r := range s.Grid.Rows {
			g.Rows[i] = GridRow{
				Expiry:       r.Expiry,
				TimeToExpiry: r.TimeToExpiry,
				Values:       append(Series(nil), r.Values...),
			}
		}
		c.Grid = &g
	}
	return &c
}

// GridAxis selects the x axis of a grid.
type GridAxis string

const (
	AxisStrike    GridAxis = "strike"
	AxisMoneyness GridAxis = "moneyness"
)

// SurfaceGrid is a regular resampling of a surface along the strike axis, one row per
// expiry.
type SurfaceGrid struct {
	Axis   GridAxis   `json:"axis"`
	Method string     `json:"method"`
	Type   OptionType `json:"type"`
	X      []float64  `json:"x"`
	Rows   []GridRow  `json:"rows"`
}

// GridRow holds interpolated vols for one expiry. Cells outside the observed strike
// range of the expiry are NaN.
type GridRow struct {
	Expiry       time.Time `json:"expiry"`
	TimeToExpiry float64   `json:"time_to_expiry"`
	Values       Series    `json:"values"`
}

// Series is a float slice whose NaN cells travel as JSON null.
type Series []float64

func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (s *Series) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Series, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*s = out
	return nil
}
