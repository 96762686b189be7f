package application

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

var layeredTiers = []domain.Tier{domain.TierMinute, domain.TierHour, domain.TierDay}

// LayeredWindow roda três janelas fixas independentes em sequência (minuto,
// hora, dia), cada uma com seu limite e seu contador com TTL. O primeiro tier
// excedido nega e reporta o seu próprio retry-after.
//
// Apesar do nome de configuração "sliding_window", não é um sliding log:
// rajadas na virada de janela são possíveis em cada tier.
type LayeredWindow struct {
	Store domain.CounterStore
	Now   func() time.Time
}

func (l *LayeredWindow) Evaluate(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, error) {
	now := l.Now()
	remaining := make(map[domain.Tier]int64, len(layeredTiers))
	var resetAt time.Time

	for _, tier := range layeredTiers {
		w := windowAt(now, tier.Window())
		count, err := readCount(ctx, l.Store, windowKey(rule.Name, tier, id, w.index))
		if err != nil {
			return domain.Decision{}, err
		}
		limit := rule.Limit(tier)
		if count+1 > limit {
			return denyWindow(tier, w), nil
		}
		remaining[tier] = limit - count - 1
		if resetAt.IsZero() {
			resetAt = w.resetAt
		}
	}

	dec := domain.Allow(remaining)
	dec.ResetAt = resetAt
	return dec, nil
}

func (l *LayeredWindow) Record(ctx context.Context, id domain.Identifier, rule domain.Rule) error {
	now := l.Now()
	var errs []error
	for _, tier := range layeredTiers {
		w := windowAt(now, tier.Window())
		if _, err := l.Store.Increment(ctx, domain.NamespaceRateLimit, windowKey(rule.Name, tier, id, w.index), 1, tier.Window()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *LayeredWindow) Reserve(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, Release, error) {
	now := l.Now()
	remaining := make(map[domain.Tier]int64, len(layeredTiers))
	var resetAt time.Time

	type taken struct {
		key string
		ttl time.Duration
	}
	var held []taken
	release := func(ctx context.Context) error {
		var errs []error
		for _, t := range held {
			if _, err := l.Store.Increment(ctx, domain.NamespaceRateLimit, t.key, -1, t.ttl); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, tier := range layeredTiers {
		w := windowAt(now, tier.Window())
		key := windowKey(rule.Name, tier, id, w.index)
		n, err := l.Store.Increment(ctx, domain.NamespaceRateLimit, key, 1, tier.Window())
		if err != nil {
			// contadores não desfeitos aparecem junto no log de fail-open
			return domain.Decision{}, nil, errors.Join(err, release(ctx))
		}
		held = append(held, taken{key: key, ttl: tier.Window()})

		limit := rule.Limit(tier)
		if n > limit {
			if err := release(ctx); err != nil {
				return domain.Decision{}, nil, err
			}
			return denyWindow(tier, w), nil, nil
		}
		remaining[tier] = nonNegative(limit - n)
		if resetAt.IsZero() {
			resetAt = w.resetAt
		}
	}

	dec := domain.Allow(remaining)
	dec.ResetAt = resetAt
	return dec, release, nil
}
