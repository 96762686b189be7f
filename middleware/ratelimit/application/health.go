package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// degradedBlockRate: acima de 10% de bloqueios o serviço é reportado degradado.
const degradedBlockRate = 0.10

// StatsSnapshotter é o agregador local lido pelo health check.
type StatsSnapshotter interface {
	Snapshot() domain.StatsSnapshot
}

type HealthReport struct {
	Status         string               `json:"status"`
	CacheAvailable bool                 `json:"cache_available"`
	Error          string               `json:"error,omitempty"`
	Stats          domain.StatsSnapshot `json:"stats"`
	CheckedAt      time.Time            `json:"checked_at"`
}

// Health avalia o estado do controle de admissão:
//   - degraded: taxa de bloqueio > 10% ou counter store inacessível
//   - unhealthy: store inacessível e mais da metade das requisições admitidas
//     por fail-open (o limite está, na prática, desligado)
func Health(ctx context.Context, store domain.CounterStore, stats StatsSnapshotter) HealthReport {
	rep := HealthReport{Status: StatusHealthy, CheckedAt: time.Now()}
	if stats != nil {
		rep.Stats = stats.Snapshot()
	}

	if store == nil {
		rep.Status = StatusUnhealthy
		rep.Error = "no counter store configured"
		return rep
	}

	if err := store.Ping(ctx); err != nil {
		rep.Error = err.Error()
	} else {
		rep.CacheAvailable = true
	}

	if !rep.CacheAvailable || rep.Stats.BlockRate > degradedBlockRate {
		rep.Status = StatusDegraded
	}
	if !rep.CacheAvailable && rep.Stats.TotalRequests > 0 &&
		float64(rep.Stats.FallbackRequests)/float64(rep.Stats.TotalRequests) > 0.5 {
		rep.Status = StatusUnhealthy
	}
	return rep
}
