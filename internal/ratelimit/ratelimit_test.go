package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func newTestBucket(burst int, refill time.Duration) (*TokenBucket, *time.Time) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(burst, refill)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBurstExhaustion(t *testing.T) {
	b, _ := newTestBucket(20, time.Second)
	for i := 0; i < 20; i++ {
		if !b.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if b.Allow("1.2.3.4") {
		t.Fatalf("21st request should be denied")
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	b, _ := newTestBucket(1, time.Second)
	if !b.Allow("a") || b.Allow("a") {
		t.Fatalf("expected a to exhaust its single token")
	}
	if !b.Allow("b") {
		t.Fatalf("b must have its own bucket")
	}
}

func TestRefill(t *testing.T) {
	b, clock := newTestBucket(2, time.Second)
	b.Allow("a")
	b.Allow("a")
	if b.Allow("a") {
		t.Fatalf("expected empty bucket")
	}
	*clock = clock.Add(1100 * time.Millisecond)
	if !b.Allow("a") {
		t.Fatalf("expected one token after refill")
	}
	if b.Allow("a") {
		t.Fatalf("only one token should have refilled")
	}
}

func TestIdleBucketsEvicted(t *testing.T) {
	b, clock := newTestBucket(2, time.Second)
	b.Allow("a")
	b.Allow("a")
	b.Allow("b")
	*clock = clock.Add(time.Second)
	b.Allow("b")
	if b.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", b.Len())
	}

	*clock = clock.Add(1500 * time.Millisecond)
	b.Allow("c")
	if b.Len() != 2 {
		t.Fatalf("expected a evicted, got %d buckets", b.Len())
	}
	if !b.Allow("a") || !b.Allow("a") || b.Allow("a") {
		t.Fatalf("evicted identity should start with a full bucket")
	}
}

func TestIdentity(t *testing.T) {
	r := httptest.NewRequest("POST", "/v0/tasks", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	if got := Identity(r); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := Identity(r); got != "203.0.113.7" {
		t.Fatalf("expected forwarded client, got %q", got)
	}
	r.Header.Del("X-Forwarded-For")
	r.RemoteAddr = ""
	if got := Identity(r); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
