package models

// Requests for the surface HTTP endpoints. Optional rates and windows travel as strings
// so that an absent parameter can be told apart from zero.

type SurfaceRequest struct {
	Ticker        string `query:"ticker" json:"ticker" validate:"required,ticker"`
	RiskFreeRate  string `query:"rate" json:"rate" validate:"omitempty,numeric"`
	DividendYield string `query:"dividend" json:"dividend" validate:"omitempty,numeric"`
	MinStrikePct  string `query:"min_strike_pct" json:"min_strike_pct" validate:"omitempty,numeric"`
	MaxStrikePct  string `query:"max_strike_pct" json:"max_strike_pct" validate:"omitempty,numeric"`
	GridPoints    int    `query:"grid_points" json:"grid_points" validate:"omitempty,gte=2,lte=500"`
	GridMethod    string `query:"grid_method" json:"grid_method" validate:"omitempty,oneof=linear cubic"`
	GridAxis      string `query:"grid_axis" json:"grid_axis" validate:"omitempty,oneof=strike moneyness"`
	GridType      string `query:"grid_type" json:"grid_type" validate:"omitempty,oneof=call put"`
	NoGrid        bool   `query:"no_grid" json:"no_grid"`
}

type ChartRequest struct {
	Ticker string `query:"ticker" json:"ticker" validate:"required,ticker"`
	Type   string `query:"type" json:"type" default:"call" validate:"oneof=call put"`
	Points int    `query:"points" json:"points" default:"50" validate:"gte=2,lte=200"`
	Method string `query:"method" json:"method" default:"linear" validate:"oneof=linear cubic"`
}

type TickerRequest struct {
	Ticker string `query:"ticker" json:"ticker" validate:"required,ticker"`
}

type TermStructureRequest struct {
	Ticker string `query:"ticker" json:"ticker" validate:"required,ticker"`
	Type   string `query:"type" json:"type" default:"call" validate:"oneof=call put"`
}

// HistoryRequest bounds are RFC3339 timestamps or dates; empty means the stored extreme.
type HistoryRequest struct {
	Ticker string `query:"ticker" json:"ticker" validate:"required,ticker"`
	From   string `query:"from" json:"from" validate:"omitempty,timestamp"`
	To     string `query:"to" json:"to" validate:"omitempty,timestamp"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type DiffRequest struct {
	Ticker string `query:"ticker" json:"ticker" validate:"required,ticker"`
	From   string `query:"from" json:"from" validate:"omitempty,timestamp"`
	To     string `query:"to" json:"to" validate:"omitempty,timestamp"`
}

type TriggerRequest struct {
	Ticker      string `json:"ticker" validate:"required,ticker"`
	RequestedBy string `json:"requested_by" validate:"max=64"`
}

type SetTickerRequest struct {
	Symbol string `json:"symbol" validate:"required,ticker"`
	Active *bool  `json:"active"`
}
