package models

import (
	"fmt"
	"strings"
	"time"
)

// OptionType is the exercise right of a European option.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ParseOptionType accepts "call"/"put" as well as the single-letter forms used by
// most chain feeds.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

// Valid reports whether t is call or put.
func (t OptionType) Valid() bool { return t == Call || t == Put }

// Quote is a single row of an option chain as returned by the market-data source.
type Quote struct {
	Strike          float64    `json:"strike"`
	Expiry          time.Time  `json:"expiry"`
	Type            OptionType `json:"type"`
	Bid             float64    `json:"bid,omitempty"`
	Ask             float64    `json:"ask,omitempty"`
	Last            float64    `json:"last,omitempty"`
	UnderlyingPrice float64    `json:"underlying_price,omitempty"`
	Volume          *int64     `json:"volume,omitempty"`
	OpenInterest    *int64     `json:"open_interest,omitempty"`
	QuotedAt        time.Time  `json:"quoted_at,omitempty"`
}

// MarketPrice returns the mid when both sides are quoted, otherwise the last trade.
func (q Quote) MarketPrice() (float64, bool) {
	if q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid {
		return (q.Bid + q.Ask) / 2, true
	}
	if q.Last > 0 {
		return q.Last, true
	}
	return 0, false
}

// Spread returns ask-bid when both sides are quoted.
func (q Quote) Spread() (float64, bool) {
	if q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid {
		return q.Ask - q.Bid, true
	}
	return 0, false
}

// QuoteTable is one chain fetch for a ticker.
type QuoteTable struct {
	Ticker          string    `json:"ticker"`
	UnderlyingPrice float64   `json:"underlying_price"`
	AsOf            time.Time `json:"as_of"`
	Quotes          []Quote   `json:"quotes"`
}
