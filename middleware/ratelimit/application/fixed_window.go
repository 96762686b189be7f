package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// FixedWindow usa um único contador por (regra, identificador, minuto).
// Simples e determinístico, mas permite até 2×PerMinute na virada da janela.
type FixedWindow struct {
	Store domain.CounterStore
	Now   func() time.Time
}

func (f *FixedWindow) key(id domain.Identifier, rule domain.Rule, w window) string {
	return windowKey(rule.Name, domain.TierMinute, id, w.index)
}

func (f *FixedWindow) Evaluate(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, error) {
	w := windowAt(f.Now(), time.Minute)
	count, err := readCount(ctx, f.Store, f.key(id, rule, w))
	if err != nil {
		return domain.Decision{}, err
	}
	if count+1 > rule.PerMinute {
		return denyWindow(domain.TierMinute, w), nil
	}
	dec := domain.Allow(map[domain.Tier]int64{domain.TierMinute: rule.PerMinute - count - 1})
	dec.ResetAt = w.resetAt
	return dec, nil
}

func (f *FixedWindow) Record(ctx context.Context, id domain.Identifier, rule domain.Rule) error {
	w := windowAt(f.Now(), time.Minute)
	_, err := f.Store.Increment(ctx, domain.NamespaceRateLimit, f.key(id, rule, w), 1, time.Minute)
	return err
}

// Reserve incrementa primeiro e compara depois; acima do limite desfaz o
// incremento e nega.
func (f *FixedWindow) Reserve(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, Release, error) {
	w := windowAt(f.Now(), time.Minute)
	key := f.key(id, rule, w)

	n, err := f.Store.Increment(ctx, domain.NamespaceRateLimit, key, 1, time.Minute)
	if err != nil {
		return domain.Decision{}, nil, err
	}
	release := func(ctx context.Context) error {
		_, err := f.Store.Increment(ctx, domain.NamespaceRateLimit, key, -1, time.Minute)
		return err
	}
	if n > rule.PerMinute {
		if err := release(ctx); err != nil {
			return domain.Decision{}, nil, err
		}
		return denyWindow(domain.TierMinute, w), nil, nil
	}

	dec := domain.Allow(map[domain.Tier]int64{domain.TierMinute: nonNegative(rule.PerMinute - n)})
	dec.ResetAt = w.resetAt
	return dec, release, nil
}
