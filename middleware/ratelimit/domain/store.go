package domain

import (
	"context"
	"errors"
	"time"
)

// Namespace isola as chaves do rate limit de outros dados no mesmo backend.
type Namespace string

const NamespaceRateLimit Namespace = "rate_limit"

// ErrStoreUnavailable indica falha (ou timeout) ao falar com o counter store.
// O serviço trata esse erro como fail-open.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// CounterStore é o backend compartilhado e atômico de contadores.
//
// Todas as operações devem ser atômicas para chamadores concorrentes em
// todas as instâncias. Chave ausente equivale ao valor 0.
type CounterStore interface {
	Get(ctx context.Context, ns Namespace, key string) (value string, ok bool, err error)
	Set(ctx context.Context, ns Namespace, key, value string, ttl time.Duration) error
	// Increment soma amount e retorna o valor após o incremento.
	// O ttl é aplicado apenas na criação da chave (primeiro incremento).
	// Incrementos negativos nunca criam a chave.
	Increment(ctx context.Context, ns Namespace, key string, amount int64, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}
