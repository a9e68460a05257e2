package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Backend types accepted by backend.type.
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
	BackendKafka      = "kafka"
)

type Config struct {
	Environment string     `yaml:"environment" default:"development"`
	Server      Server     `yaml:"server"`
	Metrics     Metrics    `yaml:"metrics"`
	Logger      Logger     `yaml:"logger"`
	Backend     Backend    `yaml:"backend"`
	Surface     Surface    `yaml:"surface"`
	Solver      Solver     `yaml:"solver"`
	Snapshot    Snapshot   `yaml:"snapshot"`
	MarketData  MarketData `yaml:"market_data"`
	Spot        Spot       `yaml:"spot"`
	Finnhub     Finnhub    `yaml:"finnhub"`
	SQLite      SQLite     `yaml:"sqlite"`
	ClickHouse  ClickHouse `yaml:"clickhouse"`
	Kafka       Kafka      `yaml:"kafka"`
	Redis       Redis      `yaml:"redis"`
	Cache       Cache      `yaml:"cache"`
	Queue       Queue      `yaml:"queue"`
	RateLimit   RateLimit  `yaml:"rate_limit"`
}

type Server struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type Logger struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format" default:"2006-01-02T15:04:05Z07:00"`
}

// Backend selects where snapshots go. With kafka, Store names the database the
// consumer writes to and history is read from.
type Backend struct {
	Type  string `yaml:"type" default:"sqlite"`
	Store string `yaml:"store" default:"sqlite"`
}

// StoreType is the database holding snapshot history.
func (b Backend) StoreType() string {
	if b.Type == BackendKafka {
		return b.Store
	}
	return b.Type
}

// Surface holds the build parameters applied to every scheduled snapshot.
type Surface struct {
	RiskFreeRate    float64  `yaml:"risk_free_rate" default:"0.015"`
	DividendYield   float64  `yaml:"dividend_yield" default:"0.013"`
	MinStrikePct    float64  `yaml:"min_strike_pct" default:"80"`
	MaxStrikePct    float64  `yaml:"max_strike_pct" default:"120"`
	MinDaysToExpiry int      `yaml:"min_days_to_expiry" default:"7"`
	MinVolume       int64    `yaml:"min_volume"`
	MinOpenInterest int64    `yaml:"min_open_interest"`
	OptionTypes     []string `yaml:"option_types"`
	GridPoints      int      `yaml:"grid_points" default:"50"`
	GridMethod      string   `yaml:"grid_method" default:"linear"`
}

type Solver struct {
	PriceTolerance      float64 `yaml:"price_tolerance" default:"1e-8"`
	VolTolerance        float64 `yaml:"vol_tolerance" default:"1e-10"`
	MaxIterations       int     `yaml:"max_iterations" default:"100"`
	MaxBisectIterations int     `yaml:"max_bisect_iterations" default:"200"`
	MinVol              float64 `yaml:"min_vol" default:"0.0001"`
	MaxVol              float64 `yaml:"max_vol" default:"5"`
	InitialVol          float64 `yaml:"initial_vol"`
	MinVega             float64 `yaml:"min_vega" default:"1e-8"`
	MaxFlatVegaSteps    int     `yaml:"max_flat_vega_steps" default:"3"`
}

type Snapshot struct {
	Interval      time.Duration `yaml:"interval" default:"60m"`
	Tickers       []string      `yaml:"tickers"`
	Workers       int           `yaml:"workers" default:"4"`
	BuildTimeout  time.Duration `yaml:"build_timeout" default:"30s"`
	MinSpacing    time.Duration `yaml:"min_spacing" default:"1m"`
	BufferSize    int           `yaml:"buffer_size" default:"64"`
	RetryMax      int           `yaml:"retry_max" default:"3"`
	BackoffMin    time.Duration `yaml:"backoff_min" default:"500ms"`
	BackoffMax    time.Duration `yaml:"backoff_max" default:"30s"`
	DiffTolerance float64       `yaml:"diff_tolerance" default:"1e-6"`
}

type MarketData struct {
	BaseURL      string        `yaml:"base_url" default:"https://api.marketdata.app"`
	APIKey       string        `yaml:"api_key"`
	APIKeyHeader string        `yaml:"api_key_header" default:"Authorization"`
	Timeout      time.Duration `yaml:"timeout" default:"15s"`
	RetryMax     int           `yaml:"retry_max" default:"3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" default:"1s"`
}

type Spot struct {
	Enabled bool          `yaml:"enabled"`
	MaxAge  time.Duration `yaml:"max_age" default:"5m"`
}

type Finnhub struct {
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

type SQLite struct {
	Path string `yaml:"path" default:"volsurface.db"`
}

type ClickHouse struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"volsurface"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	Compression      string        `yaml:"compression" default:"lz4"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"volsurface.snapshots"`
	RequiredAcks int           `yaml:"required_acks" default:"-1"`
	Compression  string        `yaml:"compression" default:"snappy"`
	Producer     KafkaProducer `yaml:"producer"`
	Consumer     KafkaConsumer `yaml:"consumer"`
}

type KafkaProducer struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	Linger       time.Duration `yaml:"linger" default:"50ms"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	BatchSize    int           `yaml:"batch_size" default:"16"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
}

type KafkaConsumer struct {
	Enabled     bool          `yaml:"enabled"`
	GroupID     string        `yaml:"group_id" default:"volsurface-store"`
	StartOffset string        `yaml:"start_offset" default:"earliest"`
	Workers     int           `yaml:"workers" default:"2"`
	BufferSize  int           `yaml:"buffer_size" default:"64"`
	RetryMax    int           `yaml:"retry_max" default:"3"`
	BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
	BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic    string        `yaml:"dlq_topic" default:"volsurface.snapshots.dlq"`
	MinBytes    int           `yaml:"min_bytes" default:"1"`
	MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type Cache struct {
	// Type is memory, redis or layered. Redis backed types need redis.enabled.
	Type       string        `yaml:"type" default:"memory"`
	SurfaceTTL time.Duration `yaml:"surface_ttl" default:"5m"`
	MaxEntries int           `yaml:"max_entries" default:"256"`
	LockTTL    time.Duration `yaml:"lock_ttl" default:"30s"`
	KeyPrefix  string        `yaml:"key_prefix" default:"volsurface"`
}

type Queue struct {
	Enabled    bool          `yaml:"enabled"`
	Workers    int           `yaml:"workers" default:"1"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	DedupeTTL  time.Duration `yaml:"dedupe_ttl" default:"10m"`
	KeyPrefix  string        `yaml:"key_prefix" default:"volsurface:queue"`
}

type RateLimit struct {
	SurfacePerMinute int `yaml:"surface_per_minute" default:"30"`
	Burst            int `yaml:"burst" default:"5"`
}

// Default returns a config with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.Snapshot.Tickers = []string{"SPY"}
	return &c
}

// Parse applies defaults, then the YAML document on top of them.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	floatVar := func(k string, dst *float64) error {
		v, ok := get(k)
		if !ok {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env %s: %w", k, err)
		}
		*dst = f
		return nil
	}

	for k, dst := range map[string]*float64{
		"RISK_FREE_RATE": &c.Surface.RiskFreeRate,
		"DIVIDEND_YIELD": &c.Surface.DividendYield,
		"MIN_STRIKE_PCT": &c.Surface.MinStrikePct,
		"MAX_STRIKE_PCT": &c.Surface.MaxStrikePct,
	} {
		if err := floatVar(k, dst); err != nil {
			return err
		}
	}
	if v, ok := get("SNAPSHOT_INTERVAL_MINUTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env SNAPSHOT_INTERVAL_MINUTES: %w", err)
		}
		c.Snapshot.Interval = time.Duration(n) * time.Minute
	}
	if v, ok := get("DATABASE_URL"); ok {
		path, err := sqlitePath(v)
		if err != nil {
			return fmt.Errorf("env DATABASE_URL: %w", err)
		}
		c.SQLite.Path = path
	}
	if v, ok := get("TICKERS"); ok {
		c.Snapshot.Tickers = splitList(v)
	}
	if v, ok := get("BACKEND"); ok {
		c.Backend.Type = v
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := get("KAFKA_TOPIC"); ok {
		c.Kafka.Topic = v
	}
	if v, ok := get("MARKETDATA_API_KEY"); ok {
		c.MarketData.APIKey = v
	}
	if v, ok := get("FINNHUB_API_KEY"); ok {
		c.Finnhub.APIKey = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Backend.Type {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite backend")
		}
	case BackendClickHouse:
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
		}
		if !slices.Contains([]string{"lz4", "zstd", "none"}, c.ClickHouse.Compression) {
			return fmt.Errorf("clickhouse.compression must be 'lz4', 'zstd' or 'none', got '%s'", c.ClickHouse.Compression)
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required for the kafka backend")
		}
		if c.Backend.Store != BackendSQLite && c.Backend.Store != BackendClickHouse {
			return fmt.Errorf("backend.store must be 'sqlite' or 'clickhouse', got '%s'", c.Backend.Store)
		}
	default:
		return fmt.Errorf("backend.type must be 'sqlite', 'clickhouse' or 'kafka', got '%s'", c.Backend.Type)
	}

	s := c.Surface
	if s.MinStrikePct < 0 || s.MaxStrikePct <= s.MinStrikePct {
		return fmt.Errorf("surface strike window [%v, %v] is empty", s.MinStrikePct, s.MaxStrikePct)
	}
	if s.DividendYield < 0 {
		return fmt.Errorf("surface.dividend_yield must not be negative")
	}
	if s.MinDaysToExpiry < 0 {
		return fmt.Errorf("surface.min_days_to_expiry must not be negative")
	}
	for _, t := range s.OptionTypes {
		if t != "call" && t != "put" {
			return fmt.Errorf("surface.option_types: unknown type %q", t)
		}
	}
	if s.GridMethod != "linear" && s.GridMethod != "cubic" {
		return fmt.Errorf("surface.grid_method must be 'linear' or 'cubic', got '%s'", s.GridMethod)
	}
	if v := c.Solver; !(v.MinVol > 0) || v.MaxVol <= v.MinVol {
		return fmt.Errorf("solver vol range [%v, %v] is invalid", v.MinVol, v.MaxVol)
	}

	if len(c.Snapshot.Tickers) == 0 {
		return fmt.Errorf("snapshot.tickers cannot be empty")
	}
	if c.Snapshot.Interval < time.Minute {
		return fmt.Errorf("snapshot.interval must be at least 1m, got %s", c.Snapshot.Interval)
	}
	if c.Snapshot.Workers <= 0 {
		return fmt.Errorf("snapshot.workers must be positive")
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.Spot.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when spot.enabled")
	}
	switch c.Cache.Type {
	case "memory":
	case "redis", "layered":
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.type %q needs redis.enabled", c.Cache.Type)
		}
	default:
		return fmt.Errorf("cache.type must be 'memory', 'redis' or 'layered', got '%s'", c.Cache.Type)
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled needs redis.enabled")
	}
	return nil
}

// sqlitePath accepts a plain file path or a SQLAlchemy style sqlite URL:
// sqlite:///rel.db, sqlite:////abs/file.db, sqlite+pysqlite:///x.db, sqlite:// for memory.
func sqlitePath(v string) (string, error) {
	scheme, rest, ok := strings.Cut(v, "://")
	if !ok {
		return v, nil
	}
	if driver, _, _ := strings.Cut(scheme, "+"); driver != "sqlite" {
		return "", fmt.Errorf("unsupported database scheme %q, only sqlite urls are accepted", scheme)
	}
	if rest == "" {
		return ":memory:", nil
	}
	if !strings.HasPrefix(rest, "/") {
		return "", fmt.Errorf("sqlite url %q has a host part", v)
	}
	path, _, _ := strings.Cut(rest[1:], "?")
	if path == "" {
		return ":memory:", nil
	}
	return path, nil
}
