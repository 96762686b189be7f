package application

import (
	"errors"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	ctx := t.Context()
	store := infra.NewMemoryCounterStore(infra.WithCleanupEvery(0))
	stats := infra.NewMemoryStatsStore()

	rep := Health(ctx, store, stats)
	require.Equal(t, StatusHealthy, rep.Status)
	require.True(t, rep.CacheAvailable)

	// 10% exatos ainda é saudável
	stats.Force(100, 10)
	require.Equal(t, StatusHealthy, Health(ctx, store, stats).Status)

	stats.Force(100, 11)
	require.Equal(t, StatusDegraded, Health(ctx, store, stats).Status)

	stats.Force(0, 0)
	store.SetFailure(errors.New("connection refused"))
	rep = Health(ctx, store, stats)
	require.Equal(t, StatusDegraded, rep.Status)
	require.False(t, rep.CacheAvailable)
	require.Contains(t, rep.Error, "connection refused")

	require.Equal(t, StatusUnhealthy, Health(ctx, nil, stats).Status)
}

func TestHealth_UnhealthyWhenMostlyFailingOpen(t *testing.T) {
	ctx := t.Context()
	store := infra.NewMemoryCounterStore(infra.WithCleanupEvery(0))
	store.SetFailure(domain.ErrStoreUnavailable)
	stats := infra.NewMemoryStatsStore()

	for i := 0; i < 4; i++ {
		require.NoError(t, stats.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeErrorFallbackAllow}))
	}
	require.NoError(t, stats.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeAllowed}))

	rep := Health(ctx, store, stats)
	require.Equal(t, StatusUnhealthy, rep.Status)
	require.Equal(t, int64(4), rep.Stats.FallbackRequests)
}
