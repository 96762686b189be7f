package infra

import (
	"errors"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const ns = domain.NamespaceRateLimit

func TestMemoryCounterStore_IncrementAppliesTTLOnlyAtCreation(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000040, 0)}
	s := NewMemoryCounterStore(WithClock(clock.Now), WithCleanupEvery(0))
	ctx := t.Context()

	n, err := s.Increment(ctx, ns, "k", 1, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("first increment = %d, %v", n, err)
	}

	clock.Advance(50 * time.Second)
	// TTL maior não deve renovar a expiração
	if n, _ := s.Increment(ctx, ns, "k", 1, time.Hour); n != 2 {
		t.Fatalf("second increment = %d, want 2", n)
	}

	clock.Advance(10 * time.Second)
	if _, ok, _ := s.Get(ctx, ns, "k"); ok {
		t.Fatalf("expected key to expire 60s after creation")
	}
	if n, _ := s.Increment(ctx, ns, "k", 1, time.Minute); n != 1 {
		t.Fatalf("expected fresh counter after expiry, got %d", n)
	}
}

func TestMemoryCounterStore_NegativeIncrement(t *testing.T) {
	s := NewMemoryCounterStore(WithCleanupEvery(0))
	ctx := t.Context()

	if n, _ := s.Increment(ctx, ns, "missing", -1, time.Minute); n != 0 {
		t.Fatalf("rollback on missing key = %d, want 0", n)
	}
	if s.Len() != 0 {
		t.Fatalf("rollback must not create keys")
	}

	_, _ = s.Increment(ctx, ns, "k", 1, time.Minute)
	if n, _ := s.Increment(ctx, ns, "k", -5, time.Minute); n != 0 {
		t.Fatalf("counter must be clamped at 0, got %d", n)
	}
}

func TestMemoryCounterStore_GetSet(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000040, 0)}
	s := NewMemoryCounterStore(WithClock(clock.Now), WithCleanupEvery(0))
	ctx := t.Context()

	if err := s.Set(ctx, ns, "bucket", `{"tokens":3}`, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, ns, "bucket")
	if err != nil || !ok || v != `{"tokens":3}` {
		t.Fatalf("get = %q, %v, %v", v, ok, err)
	}

	// namespaces são isolados
	if _, ok, _ := s.Get(ctx, "other", "bucket"); ok {
		t.Fatalf("expected namespace isolation")
	}

	clock.Advance(time.Hour)
	s.Cleanup()
	if s.Len() != 0 {
		t.Fatalf("expected cleanup to drop expired keys, len=%d", s.Len())
	}
}

func TestMemoryCounterStore_SetFailure(t *testing.T) {
	s := NewMemoryCounterStore(WithCleanupEvery(0))
	ctx := t.Context()
	boom := errors.New("boom")

	s.SetFailure(boom)
	if _, err := s.Increment(ctx, ns, "k", 1, time.Minute); !errors.Is(err, boom) {
		t.Fatalf("increment err = %v", err)
	}
	if _, _, err := s.Get(ctx, ns, "k"); !errors.Is(err, boom) {
		t.Fatalf("get err = %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, boom) {
		t.Fatalf("ping err = %v", err)
	}

	s.SetFailure(nil)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping after recovery: %v", err)
	}
}

func TestMemoryCounterStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryCounterStore(WithCleanupEvery(0))
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Increment(ctx, ns, "k", 1, time.Minute)
		}()
	}
	wg.Wait()

	v, _, _ := s.Get(ctx, ns, "k")
	if v != "50" {
		t.Fatalf("expected 50 after concurrent increments, got %s", v)
	}
}
