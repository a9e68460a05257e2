package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"VolSurface/internal/domain/models"
	"VolSurface/pkg/logger"

	"github.com/gorilla/websocket"
)

// Config holds the websocket settings.
type Config struct {
	APIKey         string
	WebSocketURL   string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client implements repository.SpotStream on the Finnhub trade websocket.
type Client struct {
	cfg Config
	l   *logger.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func New(cfg Config, l *logger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Client{cfg: cfg, l: l}
}

func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.WebSocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("finnhub connected", logger.String("host", u.Host))
	return nil
}

// Subscribe asks for trades of every configured symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	for _, s := range c.cfg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if err := c.writeJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.l.Info("finnhub subscribed", logger.Strings("symbols", c.cfg.Symbols))
	return nil
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.mu.Unlock()
	if conn == nil || !ok {
		return fmt.Errorf("finnhub not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// parseTrades decodes a frame; anything but a trade frame yields nothing.
func parseTrades(b []byte) []*models.SpotTick {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]*models.SpotTick, 0, len(m.Data))
	for _, d := range m.Data {
		if d.S == "" || !(d.P > 0) {
			continue
		}
		out = append(out, &models.SpotTick{
			Symbol:    d.S,
			Price:     d.P,
			Volume:    d.V,
			Timestamp: time.UnixMilli(d.T).UTC(),
		})
	}
	return out
}

// Read streams ticks until ctx ends or the connection fails. Ticks are dropped when the
// consumer falls behind; only the last price per symbol matters downstream.
func (c *Client) Read(ctx context.Context) (<-chan *models.SpotTick, <-chan error) {
	ticks := make(chan *models.SpotTick, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if conn == nil {
					return
				}
				c.writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.writeMu.Unlock()
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		defer stopPing()
		if conn == nil {
			errs <- fmt.Errorf("finnhub conn nil")
			return
		}
		dropped := 0
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			for _, t := range parseTrades(b) {
				select {
				case ticks <- t:
				default:
					dropped++
					if dropped%1000 == 1 {
						c.l.Warn("finnhub ticks dropped", logger.Int("dropped", dropped))
					}
				}
			}
		}
	}()

	return ticks, errs
}

// Reconnect closes, waits the reconnect delay, reconnects and resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
