package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Limiter é a capacidade comum das estratégias: Evaluate apenas lê o estado e
// decide; Record (chamado só se a requisição foi admitida) muta os contadores.
//
// Entre Evaluate e Record há uma janela de corrida: requisições concorrentes do
// mesmo identificador podem passar com a contagem antiga. Veja Reserver.
type Limiter interface {
	Evaluate(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, error)
	Record(ctx context.Context, id domain.Identifier, rule domain.Rule) error
}

// Release desfaz uma reserva (rollback best-effort).
type Release func(ctx context.Context) error

// Reserver é implementado por estratégias capazes de incrementar-e-comparar
// atomicamente no store. Quando a decisão é negativa a reserva já foi desfeita;
// quando positiva, Release desfaz o consumo (usado se uma regra posterior negar).
type Reserver interface {
	Reserve(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, Release, error)
}

// Limiters mapeia cada estratégia para sua implementação. Uma estratégia nova
// é uma entrada nova aqui, sem mudar o Service.
type Limiters map[domain.Strategy]Limiter

// DefaultLimiters monta as quatro estratégias sobre o mesmo store.
func DefaultLimiters(store domain.CounterStore, monitor domain.LoadMonitor, now func() time.Time) Limiters {
	if now == nil {
		now = time.Now
	}
	layered := &LayeredWindow{Store: store, Now: now}
	return Limiters{
		domain.StrategyFixedWindow:   &FixedWindow{Store: store, Now: now},
		domain.StrategySlidingWindow: layered,
		domain.StrategyTokenBucket:   &TokenBucket{Store: store, Now: now},
		domain.StrategyAdaptive:      &Adaptive{Layered: layered, Monitor: monitor},
	}
}

// window é a janela fixa que contém um instante.
type window struct {
	index      int64
	resetAt    time.Time
	retryAfter time.Duration
}

// windowAt calcula índice = floor(now/len), o próximo limite e os segundos
// até ele (inteiros, como os contadores são chaveados por segundo Unix).
func windowAt(now time.Time, length time.Duration) window {
	secs := int64(length / time.Second)
	ts := now.Unix()
	idx := ts / secs
	return window{
		index:      idx,
		resetAt:    time.Unix((idx+1)*secs, 0),
		retryAfter: time.Duration(secs-ts%secs) * time.Second,
	}
}

func windowKey(rule string, tier domain.Tier, id domain.Identifier, idx int64) string {
	return fmt.Sprintf("rate_limit:%s:%s:%s:%d", rule, tier, id, idx)
}

// readCount lê um contador; ausência equivale a 0.
func readCount(ctx context.Context, store domain.CounterStore, key string) (int64, error) {
	v, ok, err := store.Get(ctx, domain.NamespaceRateLimit, key)
	if err != nil {
		return 0, err
	}
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %q: %w", key, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func denyWindow(tier domain.Tier, w window) domain.Decision {
	return domain.Decision{
		Outcome:    domain.OutcomeDenied,
		Remaining:  map[domain.Tier]int64{tier: 0},
		ResetAt:    w.resetAt,
		RetryAfter: w.retryAfter,
	}
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
