package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

type identityKey struct{}

// WithIdentity anexa a identidade já resolvida pelo middleware de autenticação.
// O rate limit só lê esse valor, nunca autentica.
func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retorna a identidade do contexto (nil se anônimo).
func IdentityFrom(ctx context.Context) *domain.Identity {
	id, _ := ctx.Value(identityKey{}).(*domain.Identity)
	return id
}

// Resolver deriva o identificador estável de quem está chamando.
//
// Prioridade: usuário autenticado > hash da API key > sessão > IP do cliente.
type Resolver struct {
	// TrustXForwardedFor usa o primeiro IP do X-Forwarded-For (cliente de origem).
	TrustXForwardedFor bool
	APIKeyHeader       string // padrão X-API-Key
	SessionHeader      string // padrão X-Session-ID
	SessionCookie      string // padrão session_id
}

func (rv Resolver) withDefaults() Resolver {
	if rv.APIKeyHeader == "" {
		rv.APIKeyHeader = "X-API-Key"
	}
	if rv.SessionHeader == "" {
		rv.SessionHeader = "X-Session-ID"
	}
	if rv.SessionCookie == "" {
		rv.SessionCookie = "session_id"
	}
	return rv
}

// ClientIP retorna o IP do cliente: primeiro X-Forwarded-For (se confiável),
// senão o host do peer, senão "unknown".
func (rv Resolver) ClientIP(r *http.Request) string {
	if rv.TrustXForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Identifier nunca falha: no pior caso cai para o IP.
func (rv Resolver) Identifier(r *http.Request, id *domain.Identity) domain.Identifier {
	rv = rv.withDefaults()

	if id != nil && id.UserID != "" {
		return domain.Identifier("user:" + id.UserID)
	}

	if key := rv.apiKey(r); key != "" {
		sum := sha256.Sum256([]byte(key))
		return domain.Identifier("api_key:" + hex.EncodeToString(sum[:]))
	}

	if sid := strings.TrimSpace(r.Header.Get(rv.SessionHeader)); sid != "" {
		return domain.Identifier("session:" + sid)
	}
	if c, err := r.Cookie(rv.SessionCookie); err == nil && c.Value != "" {
		return domain.Identifier("session:" + c.Value)
	}

	return domain.Identifier("ip:" + rv.ClientIP(r))
}

// apiKey lê o header de API key; na ausência aceita "Authorization: Bearer".
func (rv Resolver) apiKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(rv.APIKeyHeader)); v != "" {
		return v
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
