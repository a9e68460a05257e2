package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Surface.RiskFreeRate != 0.015 || c.Surface.DividendYield != 0.013 {
		t.Fatalf("rates = %v / %v", c.Surface.RiskFreeRate, c.Surface.DividendYield)
	}
	if c.Surface.MinStrikePct != 80 || c.Surface.MaxStrikePct != 120 || c.Surface.MinDaysToExpiry != 7 {
		t.Fatalf("window = %+v", c.Surface)
	}
	if c.Snapshot.Interval != time.Hour || c.Surface.GridPoints != 50 {
		t.Fatalf("interval=%v grid=%d", c.Snapshot.Interval, c.Surface.GridPoints)
	}
	if c.Solver.PriceTolerance != 1e-8 || c.Solver.MaxIterations != 100 {
		t.Fatalf("solver = %+v", c.Solver)
	}
	if c.Backend.Type != BackendSQLite || !c.Metrics.Enabled {
		t.Fatalf("backend=%s metrics=%v", c.Backend.Type, c.Metrics.Enabled)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: test
metrics:
  enabled: false
surface:
  risk_free_rate: 0.04
  grid_method: cubic
snapshot:
  interval: 15m
  tickers: [AAPL, MSFT]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Surface.RiskFreeRate != 0.04 || c.Surface.DividendYield != 0.013 {
		t.Fatalf("surface = %+v", c.Surface)
	}
	if c.Metrics.Enabled {
		t.Fatalf("explicit false should win over the default")
	}
	if c.Snapshot.Interval != 15*time.Minute || strings.Join(c.Snapshot.Tickers, ",") != "AAPL,MSFT" {
		t.Fatalf("snapshot = %+v", c.Snapshot)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RISK_FREE_RATE":            "0.05",
		"MAX_STRIKE_PCT":            "150",
		"SNAPSHOT_INTERVAL_MINUTES": "5",
		"DATABASE_URL":              "/tmp/iv.db",
		"TICKERS":                   "spy, qqq ,",
		"BACKEND":                   "kafka",
		"KAFKA_BROKERS":             "k1:9092,k2:9092",
		"MARKETDATA_API_KEY":        "secret",
		"DIVIDEND_YIELD":            " ",
	}
	c := Default()
	err := c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if c.Surface.RiskFreeRate != 0.05 || c.Surface.MaxStrikePct != 150 || c.Surface.DividendYield != 0.013 {
		t.Fatalf("surface = %+v", c.Surface)
	}
	if c.Snapshot.Interval != 5*time.Minute || c.SQLite.Path != "/tmp/iv.db" {
		t.Fatalf("interval=%v path=%s", c.Snapshot.Interval, c.SQLite.Path)
	}
	if strings.Join(c.Snapshot.Tickers, ",") != "SPY,QQQ" {
		t.Fatalf("tickers = %v", c.Snapshot.Tickers)
	}
	if c.Backend.Type != BackendKafka || len(c.Kafka.Brokers) != 2 || c.MarketData.APIKey != "secret" {
		t.Fatalf("config = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := Default()
	err = bad.ApplyEnv(func(k string) (string, bool) {
		if k == "RISK_FREE_RATE" {
			return "three percent", true
		}
		return "", false
	})
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyEnvDatabaseURL(t *testing.T) {
	cases := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"sqlite:///volatility_surface.db", "volatility_surface.db", false},
		{"sqlite:////var/lib/iv/iv.db", "/var/lib/iv/iv.db", false},
		{"sqlite+pysqlite:///iv.db?timeout=5", "iv.db", false},
		{"sqlite://", ":memory:", false},
		{"sqlite:///:memory:", ":memory:", false},
		{"data/iv.db", "data/iv.db", false},
		{"postgresql://user:pw@db/iv", "", true},
		{"sqlite://host/iv.db", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			c := Default()
			err := c.ApplyEnv(func(k string) (string, bool) {
				if k == "DATABASE_URL" {
					return tc.url, true
				}
				return "", false
			})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, path = %q", c.SQLite.Path)
				}
				return
			}
			if err != nil {
				t.Fatalf("apply env: %v", err)
			}
			if c.SQLite.Path != tc.want {
				t.Fatalf("path = %q, want %q", c.SQLite.Path, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Backend.Type = "mongo" }, "backend.type"},
		{"kafka without brokers", func(c *Config) { c.Backend.Type = BackendKafka }, "kafka.brokers"},
		{"kafka into kafka", func(c *Config) {
			c.Backend.Type, c.Backend.Store = BackendKafka, BackendKafka
			c.Kafka.Brokers = []string{"localhost:9092"}
		}, "backend.store"},
		{"inverted window", func(c *Config) { c.Surface.MinStrikePct = 130 }, "strike window"},
		{"no tickers", func(c *Config) { c.Snapshot.Tickers = nil }, "snapshot.tickers"},
		{"short interval", func(c *Config) { c.Snapshot.Interval = time.Second }, "snapshot.interval"},
		{"bad grid method", func(c *Config) { c.Surface.GridMethod = "spline" }, "grid_method"},
		{"bad option type", func(c *Config) { c.Surface.OptionTypes = []string{"straddle"} }, "option_types"},
		{"redis cache without redis", func(c *Config) { c.Cache.Type = "redis" }, "redis.enabled"},
		{"queue without redis", func(c *Config) { c.Queue.Enabled = true }, "redis.enabled"},
		{"spot without key", func(c *Config) { c.Spot.Enabled = true }, "finnhub.api_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("environment: test\nbackend:\n  type: sqlite\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Environment != "test" {
		t.Fatalf("environment = %s", c.Environment)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
