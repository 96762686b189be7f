package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do controle de admissão.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Identifier/Path sem controle
// pode explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Identifier Identifier
	Outcome    Outcome
	// Rule é a regra que negou, se houver.
	Rule string

	Method string
	Path   string

	// Latency é o tempo gasto na decisão de admissão.
	Latency time.Duration
	At      time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O middleware deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// LoadMonitor fornece a carga local do processo (0..1) para a estratégia
// adaptativa e recebe a notificação de cada ajuste aplicado.
type LoadMonitor interface {
	Load() float64
	RecordAdjustment(rule string)
}

// StatsSnapshot é a fotografia das estatísticas locais do processo.
type StatsSnapshot struct {
	TotalRequests       int64            `json:"total_requests"`
	BlockedRequests     int64            `json:"blocked_requests"`
	FallbackRequests    int64            `json:"fallback_requests"`
	RateLimitHits       map[string]int64 `json:"rate_limit_hits"`
	AdaptiveAdjustments int64            `json:"adaptive_adjustments"`
	SlowResponses       int64            `json:"slow_responses"`
	SuccessRate         float64          `json:"success_rate"`
	BlockRate           float64          `json:"block_rate"`
	TotalRules          int              `json:"total_rules"`
}
