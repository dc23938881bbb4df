package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllow_FirstCallFreeSecondGated(t *testing.T) {
	g := NewGate(time.Second)

	// An unknown source has no limiter yet and is never denied.
	if !g.Allow("unknown") {
		t.Fatal("unknown source should be allowed")
	}

	g.SetInterval("alpha", time.Second)
	if !g.Allow("alpha") {
		t.Fatal("first call should be allowed immediately")
	}
	if g.Allow("alpha") {
		t.Fatal("second probe within the interval should be denied")
	}
}

func TestAcquire_EnforcesMinInterval(t *testing.T) {
	interval := 30 * time.Millisecond
	g := NewGate(interval)

	start := time.Now()
	if err := g.Acquire(context.Background(), "alpha"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := g.Acquire(context.Background(), "alpha"); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < interval {
		t.Fatalf("second acquire returned after %v, want at least %v", elapsed, interval)
	}
}

func TestAcquire_SourcesAreIndependent(t *testing.T) {
	g := NewGate(time.Second)
	if err := g.Acquire(context.Background(), "alpha"); err != nil {
		t.Fatalf("alpha: %v", err)
	}
	start := time.Now()
	if err := g.Acquire(context.Background(), "beta"); err != nil {
		t.Fatalf("beta: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("beta waited %v behind alpha's limiter", elapsed)
	}
}

func TestSetInterval_ZeroDisablesLimiting(t *testing.T) {
	g := NewGate(time.Hour)
	g.SetInterval("alpha", 0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := g.Acquire(context.Background(), "alpha"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("unlimited source blocked for %v", elapsed)
	}
}

func TestAcquire_ContextCancelUnblocks(t *testing.T) {
	g := NewGate(time.Hour)
	if err := g.Acquire(context.Background(), "alpha"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, "alpha"); err == nil {
		t.Fatal("expected context error while waiting out a one hour interval")
	}
}
