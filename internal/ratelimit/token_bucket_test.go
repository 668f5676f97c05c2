package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// The hub gives every connection a bucket with capacity == fill rate and
// charges one token per inbound message.
func TestMessageBurstThenSteadyRate(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 50, 50)

	for i := 0; i < 50; i++ {
		if !b.Allow(1) {
			t.Fatalf("message %d of the initial burst denied", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("message past the burst allowed on an empty bucket")
	}

	// 20ms at 50 tokens/sec is exactly one message.
	clk.Advance(20 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("steady-rate message denied after refill interval")
	}
	if b.Allow(1) {
		t.Fatalf("second message allowed inside one refill interval")
	}
}

func TestIdleConnectionRefillsToCapacityOnly(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 2)

	if !b.Allow(2) {
		t.Fatalf("initial tokens missing")
	}

	// A connection idle for an hour still only gets its burst back.
	clk.Advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("refill after idle denied")
	}
	if b.Allow(1) {
		t.Fatalf("idle time refilled past capacity")
	}
}

func TestNilClockUsesWallClock(t *testing.T) {
	b := NewTokenBucket(nil, 1, 1)
	if !b.Allow(1) {
		t.Fatalf("fresh bucket on the wall clock denied its first message")
	}
	if b.Allow(1) {
		t.Fatalf("empty bucket allowed a second message immediately")
	}
}

func TestClockGoingBackwardsDoesNotRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial token missing")
	}

	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("backwards clock granted tokens")
	}

	// Refill resumes from the re-anchored time.
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("refill after re-anchor denied")
	}
}

func TestNonPositiveCostAlwaysAllowed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)
	b.Allow(1)

	if !b.Allow(0) || !b.Allow(-3) {
		t.Fatalf("non-positive cost denied on an empty bucket")
	}
	if b.Allow(1) {
		t.Fatalf("non-positive cost granted tokens as a side effect")
	}
}
