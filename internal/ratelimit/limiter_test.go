package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestMessageLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := NewMessageLimiter(1, 2)

	if !l.Allow() || !l.Allow() {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected third immediate message to be rate limited")
	}
}

func TestConnectionLimiterCapsPerIP(t *testing.T) {
	c := NewConnectionLimiter(2, time.Minute)

	if !c.TryAcquire("1.2.3.4") || !c.TryAcquire("1.2.3.4") {
		t.Fatal("expected first two connections to succeed")
	}
	if c.TryAcquire("1.2.3.4") {
		t.Fatal("expected third connection from same IP to be rejected")
	}
	if !c.TryAcquire("5.6.7.8") {
		t.Fatal("expected a different IP to have its own budget")
	}
}

func TestConnectionLimiterReleaseFreesSlot(t *testing.T) {
	c := NewConnectionLimiter(1, time.Minute)

	c.TryAcquire("1.1.1.1")
	c.Release("1.1.1.1")

	if !c.TryAcquire("1.1.1.1") {
		t.Fatal("expected slot to be reusable after release")
	}
}

func TestConnectionLimiterGCRemovesStaleEmptyEntries(t *testing.T) {
	c := NewConnectionLimiter(1, time.Millisecond)

	c.TryAcquire("1.1.1.1")
	c.Release("1.1.1.1")

	time.Sleep(5 * time.Millisecond)
	c.GC()

	c.mu.Lock()
	_, stillTracked := c.emptiedAt["1.1.1.1"]
	c.mu.Unlock()

	if stillTracked {
		t.Fatal("expected stale empty entry to be GC'd")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 1.1.1.1")
	req.RemoteAddr = "2.2.2.2:5555"

	if ip := ClientIP(req); ip != "9.9.9.9" {
		t.Fatalf("expected first hop 9.9.9.9, got %s", ip)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	req.RemoteAddr = "2.2.2.2:5555"

	if ip := ClientIP(req); ip != "2.2.2.2" {
		t.Fatalf("expected 2.2.2.2, got %s", ip)
	}
}
