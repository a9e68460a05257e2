package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"VolSurface/internal/domain/models"
	xhttp "VolSurface/pkg/http"
	"VolSurface/pkg/logger"
)

const dateLayout = "2006-01-02"

// Config holds the chain endpoint settings.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	RetryMax     int
	RetryBackoff time.Duration
}

// Client fetches option chains over HTTP and implements repository.QuoteSource.
type Client struct {
	cfg  Config
	http *xhttp.Client
	l    *logger.Logger
	// close is the exercise time applied to date-only expirations.
	close func(day time.Time) time.Time
}

// Option customizes Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *xhttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(cfg Config, l *logger.Logger, opts ...Option) *Client {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "Authorization"
	}
	c := &Client{
		cfg: cfg,
		l:   l,
		http: xhttp.NewClient(
			xhttp.WithTimeout(cfg.Timeout),
			xhttp.WithRetry(cfg.RetryMax, cfg.RetryBackoff),
		),
		close: marketClose(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chainOption struct {
	Strike       float64 `json:"strike"`
	Expiration   string  `json:"expiration"`
	Type         string  `json:"type"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Volume       *int64  `json:"volume"`
	OpenInterest *int64  `json:"open_interest"`
	UpdatedAt    string  `json:"updated_at"`
}

type chainResponse struct {
	UnderlyingPrice float64       `json:"underlying_price"`
	AsOf            string        `json:"as_of"`
	Options         []chainOption `json:"options"`
}

// FetchChain returns every quote of the ticker's chain. Rows with an unreadable
// expiration or type are skipped and logged; the builder filters everything else.
func (c *Client) FetchChain(ctx context.Context, ticker string) (*models.QuoteTable, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("fetch chain: empty ticker")
	}

	header := http.Header{"Accept": {"application/json"}}
	if c.cfg.APIKey != "" {
		v := c.cfg.APIKey
		if strings.EqualFold(c.cfg.APIKeyHeader, "Authorization") {
			v = "Bearer " + v
		}
		header.Set(c.cfg.APIKeyHeader, v)
	}

	var resp chainResponse
	start := time.Now()
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/options/" + url.PathEscape(ticker) + "/chain"
	err := c.http.GetJSON(ctx, endpoint, header, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch chain %s: %w", ticker, err)
	}

	asOf, err := parseTime(resp.AsOf)
	if err != nil || asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	table := &models.QuoteTable{
		Ticker:          ticker,
		UnderlyingPrice: resp.UnderlyingPrice,
		AsOf:            asOf,
		Quotes:          make([]models.Quote, 0, len(resp.Options)),
	}
	skipped := 0
	for _, o := range resp.Options {
		q, err := c.toQuote(o, resp.UnderlyingPrice, asOf)
		if err != nil {
			skipped++
			c.l.Debug("chain row skipped", logger.String("ticker", ticker), logger.Error(err))
			continue
		}
		table.Quotes = append(table.Quotes, q)
	}

	c.l.Info("chain fetched",
		logger.String("ticker", ticker),
		logger.Int("quotes", len(table.Quotes)),
		logger.Int("skipped", skipped),
		logger.Duration("took", time.Since(start)))
	return table, nil
}

func (c *Client) toQuote(o chainOption, spot float64, asOf time.Time) (models.Quote, error) {
	typ, err := models.ParseOptionType(o.Type)
	if err != nil {
		return models.Quote{}, err
	}
	expiry, err := c.parseExpiry(o.Expiration)
	if err != nil {
		return models.Quote{}, err
	}
	quotedAt, err := parseTime(o.UpdatedAt)
	if err != nil || quotedAt.IsZero() {
		quotedAt = asOf
	}
	return models.Quote{
		Strike:          o.Strike,
		Expiry:          expiry,
		Type:            typ,
		Bid:             o.Bid,
		Ask:             o.Ask,
		Last:            o.Last,
		UnderlyingPrice: spot,
		Volume:          o.Volume,
		OpenInterest:    o.OpenInterest,
		QuotedAt:        quotedAt,
	}, nil
}

func (c *Client) parseExpiry(s string) (time.Time, error) {
	if d, err := time.Parse(dateLayout, s); err == nil {
		return c.close(d), nil
	}
	t, err := parseTime(s)
	if err != nil || t.IsZero() {
		return time.Time{}, fmt.Errorf("expiration %q", s)
	}
	return t, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// marketClose pins a listed expiry to 16:00 New York time, or 21:00 UTC where the
// zone database is unavailable.
func marketClose() func(time.Time) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	return func(d time.Time) time.Time {
		if err != nil {
			return time.Date(d.Year(), d.Month(), d.Day(), 21, 0, 0, 0, time.UTC)
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, loc).UTC()
	}
}
