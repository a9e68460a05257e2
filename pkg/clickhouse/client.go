package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Option adjusts the connection options before the pool is opened.
type Option func(*clickhouse.Options)

// WithAddr points the pool at one server.
func WithAddr(host string, port int) Option {
	return func(o *clickhouse.Options) {
		o.Addr = []string{net.JoinHostPort(host, strconv.Itoa(port))}
	}
}

func WithDatabase(db string) Option {
	return func(o *clickhouse.Options) { o.Auth.Database = db }
}

func WithCredentials(user, password string) Option {
	return func(o *clickhouse.Options) {
		o.Auth.Username = user
		o.Auth.Password = password
	}
}

func WithPool(maxOpen, maxIdle int) Option {
	return func(o *clickhouse.Options) {
		o.MaxOpenConns = maxOpen
		o.MaxIdleConns = maxIdle
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(on bool) Option {
	return func(o *clickhouse.Options) {
		if on {
			o.Protocol = clickhouse.HTTP
		}
	}
}

// WithAsyncInsert lets the server buffer small inserts. With wait set an insert
// returns only after its buffer was flushed.
func WithAsyncInsert(on, wait bool) Option {
	return func(o *clickhouse.Options) {
		if !on {
			delete(o.Settings, "async_insert")
			delete(o.Settings, "wait_for_async_insert")
			return
		}
		o.Settings["async_insert"] = 1
		o.Settings["wait_for_async_insert"] = boolSetting(wait)
	}
}

func WithTimeouts(dial, read time.Duration) Option {
	return func(o *clickhouse.Options) {
		if dial > 0 {
			o.DialTimeout = dial
		}
		if read > 0 {
			o.ReadTimeout = read
		}
	}
}

// WithMaxExecutionTime caps every query server side, in whole seconds.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(o *clickhouse.Options) {
		if s := int(d.Seconds()); s > 0 {
			o.Settings["max_execution_time"] = s
		}
	}
}

// WithCompression picks the block codec: lz4, zstd or none.
func WithCompression(method string) Option {
	return func(o *clickhouse.Options) {
		switch method {
		case "zstd":
			o.Compression = &clickhouse.Compression{Method: clickhouse.CompressionZSTD}
		case "none":
			o.Compression = nil
		default:
			o.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
		}
	}
}

func boolSetting(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Options renders the connection options NewClient would open with.
func Options(opts ...Option) *clickhouse.Options {
	o := &clickhouse.Options{
		Addr:            []string{"localhost:9000"},
		Auth:            clickhouse.Auth{Database: "default", Username: "default"},
		Settings:        clickhouse.Settings{},
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Client is a database/sql pool bound to one database.
type Client struct {
	db       *sql.DB
	database string
}

// NewClient opens the pool and pings the server once.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := Options(opts...)

	db := clickhouse.OpenDB(o)
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, o.DialTimeout+time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %v: %w", o.Addr, err)
	}
	return &Client{db: db, database: o.Auth.Database}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

// Database is the database the pool is bound to.
func (c *Client) Database() string { return c.database }

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.db.Close()
}

// InitSchema runs idempotent DDL statements in order. ClickHouse has no
// transactional DDL, so a failure leaves the earlier statements applied.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
