package infra

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, s domain.StatsStore, outcome domain.Outcome, rule string) {
	t.Helper()
	require.NoError(t, s.Record(t.Context(), domain.StatsEvent{
		Identifier: "ip:1",
		Outcome:    outcome,
		Rule:       rule,
		Latency:    time.Millisecond,
	}))
}

func TestMemoryStatsStore_Snapshot(t *testing.T) {
	s := NewMemoryStatsStore(WithTotalRules(4))

	require.Equal(t, 1.0, s.Snapshot().SuccessRate)
	require.Equal(t, 0.0, s.Load())

	for i := 0; i < 7; i++ {
		record(t, s, domain.OutcomeAllowed, "")
	}
	record(t, s, domain.OutcomeDenied, "chat_api")
	record(t, s, domain.OutcomeDenied, "chat_api")
	record(t, s, domain.OutcomeErrorFallbackAllow, "")
	s.RecordAdjustment("general_api")
	s.RecordSlowResponse()

	snap := s.Snapshot()
	require.Equal(t, int64(10), snap.TotalRequests)
	require.Equal(t, int64(2), snap.BlockedRequests)
	require.Equal(t, int64(1), snap.FallbackRequests)
	require.Equal(t, map[string]int64{"chat_api": 2}, snap.RateLimitHits)
	require.Equal(t, int64(1), snap.AdaptiveAdjustments)
	require.Equal(t, int64(1), snap.SlowResponses)
	require.InDelta(t, 0.8, snap.SuccessRate, 1e-9)
	require.InDelta(t, 0.2, snap.BlockRate, 1e-9)
	require.Equal(t, 4, snap.TotalRules)

	// 20% bloqueado satura a carga
	require.Equal(t, 1.0, s.Load())
}

func TestMemoryStatsStore_Load(t *testing.T) {
	s := NewMemoryStatsStore()
	s.Force(100, 5)
	require.InDelta(t, 0.5, s.Load(), 1e-9)
	s.Force(100, 85)
	require.Equal(t, 1.0, s.Load())
}

func TestPrometheusStatsStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusStatsStore(reg)

	record(t, p, domain.OutcomeAllowed, "")
	record(t, p, domain.OutcomeDenied, "auth_api")
	record(t, p, domain.OutcomeDenied, "auth_api")
	record(t, p, domain.OutcomeErrorFallbackAllow, "")

	require.Equal(t, 2.0, testutil.ToFloat64(p.decisions.WithLabelValues("denied")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("error_fallback_allow")))
	require.Equal(t, 2.0, testutil.ToFloat64(p.hits.WithLabelValues("auth_api")))

	expected := `
# HELP admission_rate_limit_hits_total Total number of requests denied, by rule
# TYPE admission_rate_limit_hits_total counter
admission_rate_limit_hits_total{rule="auth_api"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "admission_rate_limit_hits_total"))
	require.Equal(t, 1, testutil.CollectAndCount(p.latency))
}

type errStats struct{ err error }

func (e errStats) Record(context.Context, domain.StatsEvent) error { return e.err }

func TestMultiStatsStore_RecordsEverywhere(t *testing.T) {
	a := NewMemoryStatsStore()
	b := NewMemoryStatsStore()
	boom := errors.New("boom")

	m := MultiStatsStore{a, errStats{err: boom}, nil, b}
	err := m.Record(t.Context(), domain.StatsEvent{Outcome: domain.OutcomeDenied, Rule: "general_api"})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(1), a.Snapshot().BlockedRequests)
	require.Equal(t, int64(1), b.Snapshot().BlockedRequests)
}

func TestRedisStatsStore_UnreachableReturnsError(t *testing.T) {
	var nilStore *RedisStatsStore
	require.NoError(t, nilStore.Record(t.Context(), domain.StatsEvent{}))

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 20 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStatsStore(rdb, WithStatsPrefix("test:stats:"), WithStatsTrackKeys(true))
	require.Equal(t, "test:stats", s.prefix)
	require.Error(t, s.Record(t.Context(), domain.StatsEvent{Identifier: "ip:1", Outcome: domain.OutcomeDenied, Rule: "auth_api"}))
}

// hungServer aceita conexões e nunca responde.
func hungServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestRedisStatsStore_RecordIsBoundedByTimeout(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:                  hungServer(t),
		DialTimeout:           5 * time.Second,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
		MaxRetries:            3,
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStatsStore(rdb, WithStatsTimeout(50*time.Millisecond))

	start := time.Now()
	err := s.Record(t.Context(), domain.StatsEvent{Identifier: "ip:1", Outcome: domain.OutcomeErrorFallbackAllow})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second, "stats sink must not stall the request")
}
