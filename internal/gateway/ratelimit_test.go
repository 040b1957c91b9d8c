package gateway

import (
	"fmt"
	"testing"
)

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(0, 5)
	if r.Enabled() {
		t.Fatal("rpm=0 should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !r.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiterBurstThenBlock(t *testing.T) {
	r := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !r.Allow("k") {
			t.Fatalf("request %d inside burst rejected", i)
		}
	}
	if r.Allow("k") {
		t.Error("request past burst at 1 rpm allowed")
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	r := NewRateLimiter(1, 1)
	if !r.Allow("a") {
		t.Fatal("first request for key a rejected")
	}
	if !r.Allow("b") {
		t.Error("key b throttled by key a's usage")
	}
}

func TestRateLimiterEviction(t *testing.T) {
	r := NewRateLimiter(60, 1)
	for i := 0; i < maxTrackedKeys+10; i++ {
		r.Allow(fmt.Sprintf("key-%d", i))
	}
	r.mu.Lock()
	n := len(r.limiters)
	r.mu.Unlock()
	if n > maxTrackedKeys {
		t.Errorf("tracked keys = %d, cap = %d", n, maxTrackedKeys)
	}
}
