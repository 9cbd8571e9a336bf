package api

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterPool_SharedPerModel(t *testing.T) {
	p := NewRateLimiterPool(testLogger())

	a := p.GetOrCreate("gemini-2.5-flash", 60)
	b := p.GetOrCreate("gemini-2.5-flash", 120)
	if a != b {
		t.Fatal("expected one limiter per model")
	}
	if a.Limit() != rate.Limit(1) {
		t.Errorf("limit = %v, want 1/s for 60 rpm", a.Limit())
	}
	if a.Burst() != 6 {
		t.Errorf("burst = %d, want 6", a.Burst())
	}

	if c := p.GetOrCreate("gpt-4o-mini", 0); c.Limit() != rate.Inf {
		t.Errorf("rpm 0 limit = %v, want unlimited", c.Limit())
	}
}

func TestRateLimiterPool_WaitHonoursContext(t *testing.T) {
	p := NewRateLimiterPool(testLogger())
	ctx := context.Background()

	// one request a minute with a burst of one: the second call must wait
	if _, err := p.Wait(ctx, "slow-model", 1); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Wait(ctx, "slow-model", 1); err == nil {
		t.Error("expected second Wait() to fail once the deadline cannot be met")
	}
}
