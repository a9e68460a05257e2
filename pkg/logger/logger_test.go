package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFieldsAreStructured(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("component", "collector"))
	l.Info("surface built",
		String("ticker", "SPY"),
		Int("points", 42),
		Float64("spot", 512.25),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	want := map[string]interface{}{
		"component": "collector",
		"ticker":    "SPY",
		"points":    float64(42),
		"spot":      512.25,
		"took":      float64(1500),
		"error":     "boom",
		"message":   "surface built",
		"level":     "info",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %s", buf.String())
	}
	l.Warn("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected warn output")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNilErrorAndSlices(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "info").Info("tickers", Error(nil), Strings("active", []string{"SPY", "QQQ"}))

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	if _, ok := got["error"]; ok {
		t.Fatalf("nil error logged: %s", buf.String())
	}
	active, ok := got["active"].([]interface{})
	if !ok || len(active) != 2 || active[0] != "SPY" {
		t.Fatalf("active = %v", got["active"])
	}
}
