package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

// loadScale converte a taxa de bloqueio em carga: 10% bloqueado já é carga 1.0.
const loadScale = 10.0

// MemoryStatsStore é o agregador local do processo (total, bloqueados,
// hits por regra, ajustes adaptativos). Alimenta a estratégia adaptativa e o
// health check. Não é autoritativo entre processos: cada instância tem o seu.
type MemoryStatsStore struct {
	mu sync.Mutex

	total       int64
	blocked     int64
	fallback    int64
	hits        map[string]int64
	adjustments int64
	slow        int64

	totalRules int
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTotalRules informa o tamanho da tabela de regras para o snapshot.
func WithTotalRules(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.totalRules = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{hits: make(map[string]int64)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	switch ev.Outcome {
	case domain.OutcomeDenied:
		s.blocked++
		if ev.Rule != "" {
			s.hits[ev.Rule]++
		}
	case domain.OutcomeErrorFallbackAllow:
		s.fallback++
	}
	return nil
}

// RecordAdjustment implementa domain.LoadMonitor.
func (s *MemoryStatsStore) RecordAdjustment(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments++
}

// RecordSlowResponse conta respostas acima do limiar de lentidão.
func (s *MemoryStatsStore) RecordSlowResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slow++
}

// Load implementa domain.LoadMonitor: min(1, blocked/total * 10).
func (s *MemoryStatsStore) Load() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total == 0 {
		return 0
	}
	load := float64(s.blocked) / float64(s.total) * loadScale
	if load > 1 {
		return 1
	}
	return load
}

// Force sobrescreve total/bloqueados. Usado para sintetizar carga em testes
// e em ferramentas de diagnóstico.
func (s *MemoryStatsStore) Force(total, blocked int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
	s.blocked = blocked
}

func (s *MemoryStatsStore) Snapshot() domain.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make(map[string]int64, len(s.hits))
	for k, v := range s.hits {
		hits[k] = v
	}

	success := 1.0
	if s.total > 0 {
		success = float64(s.total-s.blocked) / float64(s.total)
	}

	return domain.StatsSnapshot{
		TotalRequests:       s.total,
		BlockedRequests:     s.blocked,
		FallbackRequests:    s.fallback,
		RateLimitHits:       hits,
		AdaptiveAdjustments: s.adjustments,
		SlowResponses:       s.slow,
		SuccessRate:         success,
		BlockRate:           1 - success,
		TotalRules:          s.totalRules,
	}
}

var (
	_ domain.StatsStore  = (*MemoryStatsStore)(nil)
	_ domain.LoadMonitor = (*MemoryStatsStore)(nil)
)
