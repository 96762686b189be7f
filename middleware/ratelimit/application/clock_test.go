package application

import (
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

// base é alinhado ao minuto (1700000040 % 60 == 0).
var base = time.Unix(1700000040, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: base} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(c *fakeClock) *infra.MemoryCounterStore {
	return infra.NewMemoryCounterStore(infra.WithClock(c.Now), infra.WithCleanupEvery(0))
}

func rule(name string, perMinute int64, strategy domain.Strategy) domain.Rule {
	return domain.Rule{
		Name:           name,
		PerMinute:      perMinute,
		PerHour:        perMinute * 60,
		PerDay:         perMinute * 1440,
		BurstAllowance: 10,
		Strategy:       strategy,
	}
}

func req(id string) domain.Request {
	return domain.Request{
		Identifier: domain.Identifier(id),
		ClientIP:   "203.0.113.7",
		Method:     "GET",
		Path:       "/api/v1/items",
	}
}

func counter(t *testing.T, s *infra.MemoryCounterStore, key string) int64 {
	t.Helper()
	n, err := readCount(t.Context(), s, key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return n
}
