package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// incrementScript aplica o TTL somente quando a chave é criada e nunca cria
// a chave em incrementos negativos (rollback de reserva).
var incrementScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1]) == 1
local amount = tonumber(ARGV[1])
if not existed and amount < 0 then
  return 0
end
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if n < 0 then
  redis.call('SET', KEYS[1], '0', 'KEEPTTL')
  n = 0
end
local ttl = tonumber(ARGV[2])
if not existed and ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// RedisCounterStore implementa domain.CounterStore sobre Redis.
// Todas as instâncias do gateway compartilham o mesmo Redis; a atomicidade
// dos comandos (e do script de incremento) é o único mecanismo de correção.
type RedisCounterStore struct {
	rdb redis.UniversalClient

	prefix string
	// timeout é o orçamento por chamada; estourou, é falha de store.
	timeout time.Duration
}

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithCallTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisCounterStore) { s.timeout = d }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:     rdb,
		prefix:  "admission",
		timeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key monta a chave completa: <prefix>:<namespace>:<key>.
func (s *RedisCounterStore) Key(ns domain.Namespace, key string) string {
	if s.prefix == "" {
		return string(ns) + ":" + key
	}
	return s.prefix + ":" + string(ns) + ":" + key
}

func (s *RedisCounterStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func (s *RedisCounterStore) Get(ctx context.Context, ns domain.Namespace, key string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.rdb.Get(ctx, s.Key(ns, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return v, true, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, ns domain.Namespace, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Set(ctx, s.Key(ns, key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *RedisCounterStore) Increment(ctx context.Context, ns domain.Namespace, key string, amount int64, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := incrementScript.Run(ctx, s.rdb, []string{s.Key(ns, key)}, amount, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return n, nil
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)
