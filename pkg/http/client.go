package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration // parsed from the Retry-After header, zero if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports statuses worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// permanentError marks failures another attempt cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Request describes one call. Body is sent as is when it is []byte and JSON encoded
// otherwise.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	Body   interface{}
}

// Client is a JSON client with bounded retries. Transport errors, 429 and 5xx are
// retried; other statuses and undecodable bodies fail at once.
type Client struct {
	hc        *http.Client
	timeout   time.Duration
	transport http.RoundTripper
	userAgent string
	retries   int
	backoff   time.Duration
	maxWait   time.Duration
}

type ClientOption func(*Client)

// WithTimeout bounds every attempt, not the whole call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry allows n extra attempts. Attempt i waits i×backoff, or the server's
// Retry-After when that is longer.
func WithRetry(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithMaxWait caps a single wait between attempts.
func WithMaxWait(d time.Duration) ClientOption {
	return func(c *Client) { c.maxWait = d }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithTransport swaps the round tripper, mainly for tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:   30 * time.Second,
		backoff:   500 * time.Millisecond,
		maxWait:   30 * time.Second,
		userAgent: "volsurface",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hc = &http.Client{Timeout: c.timeout, Transport: c.transport}
	return c
}

// GetJSON is Do for a plain GET.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, dest interface{}) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL, Header: header}, dest)
}

// Do sends req and decodes a 2xx body into dest. dest may be nil, a *[]byte for the
// raw body, an io.Writer, or anything encoding/json decodes into.
func (c *Client) Do(ctx context.Context, req *Request, dest interface{}) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = c.once(ctx, req, body, dest)
		if err == nil || attempt == c.retries || !retryable(err) || ctx.Err() != nil {
			return err
		}
		t := time.NewTimer(c.wait(attempt+1, err))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) wait(attempt int, err error) time.Duration {
	d := time.Duration(attempt) * c.backoff
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = se.RetryAfter
	}
	if c.maxWait > 0 && d > c.maxWait {
		d = c.maxWait
	}
	return d
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var de *permanentError
	return !errors.As(err, &de)
}

func (c *Client) once(ctx context.Context, r *Request, body []byte, dest interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, rd)
	if err != nil {
		return &permanentError{fmt.Errorf("new request: %w", err)}
	}
	if len(r.Query) > 0 {
		q := req.URL.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, vs := range r.Header {
		req.Header[http.CanonicalHeaderKey(k)] = vs
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Code:       resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	switch v := dest.(type) {
	case nil:
		return nil
	case *[]byte:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*v = b
	case io.Writer:
		if _, err := io.Copy(v, resp.Body); err != nil {
			return fmt.Errorf("copy body: %w", err)
		}
	default:
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return &permanentError{fmt.Errorf("decode json: %w", err)}
		}
	}
	return nil
}

func encodeBody(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return b, nil
}

// parseRetryAfter reads the delay-seconds form; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
