package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rps float64, burst int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, rps, burst, slog.Default()), mr
}

// TestAllowBurstThenDeny exercises the soundness property from spec.md §8:
// over any interval a key may not be allowed more than burst + floor(rps*Δ)
// requests. With no elapsed time, only burst requests should succeed.
func TestAllowBurstThenDeny(t *testing.T) {
	lim, _ := newTestLimiter(t, 1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !lim.Allow(ctx, "k1") {
			t.Fatalf("request %d: expected allowed within burst", i)
		}
	}
	if lim.Allow(ctx, "k1") {
		t.Fatal("expected request beyond burst to be denied")
	}
}

// TestAllowRefillOverTime checks that tokens refill proportionally to
// elapsed time. The limiter reads the wall clock, not Redis time, so the
// test waits in real time rather than using miniredis's FastForward.
func TestAllowRefillOverTime(t *testing.T) {
	lim, _ := newTestLimiter(t, 10, 1)
	ctx := context.Background()

	if !lim.Allow(ctx, "k2") {
		t.Fatal("expected first request to be allowed")
	}
	if lim.Allow(ctx, "k2") {
		t.Fatal("expected immediate second request to be denied (bucket exhausted)")
	}

	time.Sleep(200 * time.Millisecond)

	if !lim.Allow(ctx, "k2") {
		t.Fatal("expected request to be allowed after refill window")
	}
}

// TestAllowIndependentKeys verifies buckets are isolated per key_id.
func TestAllowIndependentKeys(t *testing.T) {
	lim, _ := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	if !lim.Allow(ctx, "a") {
		t.Fatal("expected key a to be allowed")
	}
	if !lim.Allow(ctx, "b") {
		t.Fatal("expected key b to be allowed independently of key a")
	}
}

// TestAllowFailsOpenOnRedisError verifies availability over strictness: an
// unreachable Redis must never block requests (spec.md §4.2).
func TestAllowFailsOpenOnRedisError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	defer rdb.Close()

	lim := New(rdb, 1, 1, slog.Default())
	if !lim.Allow(context.Background(), "k3") {
		t.Fatal("expected fail-open (allowed) when redis is unreachable")
	}
}

// TestAllowNilRedisAllowsAll covers the zero-value / unconfigured Limiter
// used when rate limiting is disabled entirely.
func TestAllowNilRedisAllowsAll(t *testing.T) {
	lim := &Limiter{logger: slog.Default()}
	if !lim.Allow(context.Background(), "k4") {
		t.Fatal("expected nil-redis limiter to allow all requests")
	}
}
