package application

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// minBucketTTL é o TTL mínimo do registro do balde. Um balde que expira
// volta cheio, o que é equivalente se já teria reabastecido por completo.
const minBucketTTL = time.Hour

// bucketState é o registro persistido no store.
type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
	Capacity   float64   `json:"capacity"`
}

// TokenBucket: capacidade = BurstAllowance, reabastece PerMinute/60 tokens/s.
// O balde é criado cheio na primeira vez que o identificador aparece.
//
// O store só oferece get/set, então o balde é sempre check-then-record; o
// excesso residual é limitado pela concorrência em voo por identificador.
type TokenBucket struct {
	Store domain.CounterStore
	Now   func() time.Time
}

func bucketKey(rule string, id domain.Identifier) string {
	return fmt.Sprintf("token_bucket:%s:%s", rule, id)
}

func refillRate(rule domain.Rule) float64 {
	return float64(rule.PerMinute) / 60.0
}

// refill carrega o estado e calcula os tokens disponíveis em now.
func (b *TokenBucket) refill(ctx context.Context, id domain.Identifier, rule domain.Rule, now time.Time) (float64, error) {
	capacity := float64(rule.BurstAllowance)
	raw, ok, err := b.Store.Get(ctx, domain.NamespaceRateLimit, bucketKey(rule.Name, id))
	if err != nil {
		return 0, err
	}
	if !ok {
		return capacity, nil
	}

	var st bucketState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return 0, fmt.Errorf("token bucket %q: %w", bucketKey(rule.Name, id), err)
	}

	elapsed := now.Sub(st.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := math.Min(capacity, st.Tokens+elapsed*refillRate(rule))
	return math.Max(0, tokens), nil
}

func (b *TokenBucket) Evaluate(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, error) {
	now := b.Now()
	tokens, err := b.refill(ctx, id, rule, now)
	if err != nil {
		return domain.Decision{}, err
	}

	if tokens < 1 {
		rate := refillRate(rule)
		retry := time.Minute
		if rate > 0 {
			retry = time.Duration((1 - tokens) / rate * float64(time.Second))
		}
		return domain.Decision{
			Outcome:    domain.OutcomeDenied,
			Remaining:  map[domain.Tier]int64{domain.TierTokens: int64(tokens)},
			ResetAt:    now.Add(retry),
			RetryAfter: retry,
		}, nil
	}
	return domain.Allow(map[domain.Tier]int64{domain.TierTokens: int64(tokens - 1)}), nil
}

// Record recalcula o balde no instante atual e consome um token.
func (b *TokenBucket) Record(ctx context.Context, id domain.Identifier, rule domain.Rule) error {
	now := b.Now()
	tokens, err := b.refill(ctx, id, rule, now)
	if err != nil {
		return err
	}

	st := bucketState{
		Tokens:     math.Max(0, tokens-1),
		LastRefill: now,
		Capacity:   float64(rule.BurstAllowance),
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return b.Store.Set(ctx, domain.NamespaceRateLimit, bucketKey(rule.Name, id), string(raw), bucketTTL(rule))
}

// bucketTTL = max(1h, tempo para reabastecer do zero).
func bucketTTL(rule domain.Rule) time.Duration {
	rate := refillRate(rule)
	if rate <= 0 {
		return minBucketTTL
	}
	full := time.Duration(float64(rule.BurstAllowance) / rate * float64(time.Second))
	if full > minBucketTTL {
		return full
	}
	return minBucketTTL
}
