package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é um counter store em memória com expiração por chave
// e limpeza periódica. Serve para um único processo e para testes; em
// produção com várias instâncias use RedisCounterStore.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	now          func() time.Time
	cleanupEvery time.Duration
	failErr      error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = não expira
}

type MemoryStoreOption func(*MemoryCounterStore)

// WithClock troca o relógio (útil para testes de janela/TTL).
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[string]*memoryEntry),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryCounterStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// SetFailure faz todas as operações retornarem err (nil restaura).
// Simula indisponibilidade do backend.
func (s *MemoryCounterStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func memoryKey(ns domain.Namespace, key string) string {
	return string(ns) + ":" + key
}

// liveLocked retorna a entrada se existir e não estiver expirada.
// Caller must hold lock.
func (s *MemoryCounterStore) liveLocked(k string, now time.Time) (*memoryEntry, bool) {
	ent, ok := s.entries[k]
	if !ok {
		return nil, false
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.entries, k)
		return nil, false
	}
	return ent, true
}

func (s *MemoryCounterStore) Get(_ context.Context, ns domain.Namespace, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", false, s.failErr
	}

	ent, ok := s.liveLocked(memoryKey(ns, key), s.now())
	if !ok {
		return "", false, nil
	}
	return ent.value, true, nil
}

func (s *MemoryCounterStore) Set(_ context.Context, ns domain.Namespace, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	ent := &memoryEntry{value: value}
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	}
	s.entries[memoryKey(ns, key)] = ent
	return nil
}

func (s *MemoryCounterStore) Increment(_ context.Context, ns domain.Namespace, key string, amount int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}

	now := s.now()
	k := memoryKey(ns, key)
	ent, ok := s.liveLocked(k, now)
	if !ok {
		if amount < 0 {
			return 0, nil
		}
		ent = &memoryEntry{value: "0"}
		if ttl > 0 {
			ent.expiresAt = now.Add(ttl)
		}
		s.entries[k] = ent
	}

	cur, err := strconv.ParseInt(ent.value, 10, 64)
	if err != nil {
		return 0, err
	}
	cur += amount
	if cur < 0 {
		cur = 0
	}
	ent.value = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *MemoryCounterStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr
}

// Len retorna o número de chaves vivas.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k := range s.entries {
		if _, ok := s.liveLocked(k, now); ok {
			n++
		}
	}
	return n
}

// Cleanup remove chaves expiradas.
func (s *MemoryCounterStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k := range s.entries {
		s.liveLocked(k, now)
	}
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)
