package ratelimit

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

// HealthHandler expõe o health do controle de admissão:
// 200 para healthy/degraded, 503 para unhealthy.
func HealthHandler(store domain.CounterStore, stats application.StatsSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := application.Health(r.Context(), store, stats)

		status := http.StatusOK
		if rep.Status == application.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(rep)
		}
	}
}
