package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mid "VolSurface/internal/middleware"
	"VolSurface/internal/services/snapshot"
	"VolSurface/pkg/logger"
)

func newCollector(t *testing.T, quotes *fakeQuotes, store *memStore, seed ...string) *SnapshotCollector {
	t.Helper()
	svc := newService(quotes, store, nil, nil)
	pipe := mid.NewSnapshotPipeline(store, testRecorder(), logger.Nop(), mid.WithMinSpacing(time.Minute))
	return NewSnapshotCollector(svc, pipe, store, testRecorder(), logger.Nop(), CollectorConfig{
		Interval: time.Hour,
		Workers:  2,
		Seed:     seed,
	})
}

func TestCollectorRunOnce(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	store := newMemStore()
	c := newCollector(t, quotes, store)
	if err := store.Ensure(context.Background(), []string{"SPY", "QQQ"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	res := c.RunOnce(context.Background())
	if res.Tickers != 2 || res.Stored != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("cycle = %+v", res)
	}
	if store.count("SPY") != 1 || store.count("QQQ") != 0 {
		t.Fatalf("stored SPY=%d QQQ=%d", store.count("SPY"), store.count("QQQ"))
	}

	// same chain, same timestamp: throttled by the pipeline
	res = c.RunOnce(context.Background())
	if res.Stored != 0 || res.Skipped != 2 {
		t.Fatalf("second cycle = %+v", res)
	}
}

func TestCollectorSkipsInactive(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	store := newMemStore()
	c := newCollector(t, quotes, store)
	ctx := context.Background()
	if err := store.SetActive(ctx, "spy", false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	if res := c.RunOnce(ctx); res.Tickers != 0 {
		t.Fatalf("cycle = %+v", res)
	}
	if store.count("SPY") != 0 {
		t.Fatalf("inactive ticker snapshotted")
	}
}

func TestCollectorStartSeedsAndRuns(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	store := newMemStore()
	c := newCollector(t, quotes, store, "spy")

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("second start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.count("SPY") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	c.Stop()
	c.Stop()

	if store.count("SPY") != 1 {
		t.Fatalf("first cycle did not run at start")
	}
	active, _ := store.Active(context.Background())
	if len(active) != 1 || active[0] != "SPY" {
		t.Fatalf("active = %v", active)
	}
}

func TestTakeSnapshot(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	store := newMemStore()
	c := newCollector(t, quotes, store)
	ctx := context.Background()

	snap, err := c.TakeSnapshot(ctx, "spy")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if snap.Ticker != "SPY" || !snap.Timestamp.Equal(asOf) {
		t.Fatalf("snapshot = %s at %v", snap.Ticker, snap.Timestamp)
	}
	if err := snapshot.Validate(snap); err != nil {
		t.Fatalf("invalid snapshot: %v", err)
	}
	if _, err := c.TakeSnapshot(ctx, "SPY"); !errors.Is(err, mid.ErrThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}
	if _, err := c.TakeSnapshot(ctx, "QQQ"); !errors.Is(err, ErrEmptySurface) {
		t.Fatalf("expected empty surface, got %v", err)
	}
}

func TestSnapshotJob(t *testing.T) {
	quotes := &fakeQuotes{}
	quotes.set(chain(t, "SPY", asOf, 100, 0.2))
	store := newMemStore()
	job := NewSnapshotJob(newCollector(t, quotes, store))
	ctx := context.Background()

	tests := []struct {
		name    string
		payload interface{}
		wantErr bool
	}{
		{"map payload", map[string]interface{}{"ticker": "spy", "requested_by": "api"}, false},
		{"repeat is final", TakeSnapshotPayload{Ticker: "SPY"}, false},
		{"raw payload", json.RawMessage(`{"ticker":"SPY"}`), false},
		{"empty surface is final", &TakeSnapshotPayload{Ticker: "QQQ"}, false},
		{"missing ticker", map[string]interface{}{"ticker": " "}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := job.Handle(ctx, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if store.count("SPY") != 1 {
		t.Fatalf("stored = %d", store.count("SPY"))
	}
	if job.Type() != JobTakeSnapshot {
		t.Fatalf("type = %s", job.Type())
	}
}

func TestSnapshotJobDedupeKey(t *testing.T) {
	job := NewSnapshotJob(nil)
	tests := []struct {
		payload interface{}
		want    string
	}{
		{TakeSnapshotPayload{Ticker: " spy "}, "SPY"},
		{map[string]interface{}{"ticker": "qqq"}, "QQQ"},
		{json.RawMessage(`{"ticker":"IWM"}`), "IWM"},
		{42, ""},
	}
	for _, tt := range tests {
		if got := job.DedupeKey(tt.payload); got != tt.want {
			t.Fatalf("DedupeKey(%v) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
