package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	l := New(60, 2)
	l.now = func() time.Time { return now }

	if !l.Allow("SPY") || !l.Allow("SPY") {
		t.Fatalf("burst should allow two requests")
	}
	if l.Allow("SPY") {
		t.Fatalf("third request should be limited")
	}
	if d := l.RetryAfter("SPY"); d <= 0 || d > time.Second {
		t.Fatalf("retry after = %v", d)
	}
	if !l.Allow("QQQ") {
		t.Fatalf("keys are independent")
	}

	now = now.Add(time.Second)
	if !l.Allow("SPY") {
		t.Fatalf("one token should have refilled")
	}
	if l.Allow("SPY") {
		t.Fatalf("only one token refilled")
	}

	now = now.Add(time.Hour)
	if !l.Allow("SPY") || !l.Allow("SPY") || l.Allow("SPY") {
		t.Fatalf("refill must cap at burst")
	}
}
