package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// deniedBody é o corpo JSON da resposta 429. O nome da regra é exposto de
// propósito, para facilitar o diagnóstico por parte do cliente.
type deniedBody struct {
	Error      string                `json:"error"`
	Message    string                `json:"message"`
	Rule       string                `json:"rule"`
	RetryAfter int64                 `json:"retry_after"`
	ResetTime  *int64                `json:"reset_time"`
	Remaining  map[domain.Tier]int64 `json:"remaining"`
}

// remainingHeader escolhe o valor de X-RateLimit-Remaining: minuto, senão tokens.
func remainingHeader(rem map[domain.Tier]int64) int64 {
	if n, ok := rem[domain.TierMinute]; ok {
		return n
	}
	if n, ok := rem[domain.TierTokens]; ok {
		return n
	}
	return 0
}

func writeDenied(w http.ResponseWriter, dec domain.Decision, status int) {
	retry := ceilSeconds(dec.RetryAfter)
	body := deniedBody{
		Error:      "Rate limit exceeded",
		Message:    "rate limit reached: " + dec.Rule,
		Rule:       dec.Rule,
		RetryAfter: retry,
		Remaining:  dec.Remaining,
	}
	if body.Remaining == nil {
		body.Remaining = map[domain.Tier]int64{}
	}

	h := w.Header()
	h.Set("X-RateLimit-Rule", dec.Rule)
	h.Set("X-RateLimit-Remaining", formatInt(remainingHeader(dec.Remaining)))
	if !dec.ResetAt.IsZero() {
		reset := unixCeil(dec.ResetAt)
		body.ResetTime = &reset
		h.Set("X-RateLimit-Reset", formatInt(reset))
	}
	h.Set("Retry-After", formatInt(retry))
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var tierHeaders = []struct {
	tier   domain.Tier
	header string
}{
	{domain.TierMinute, "X-RateLimit-Remaining-Minute"},
	{domain.TierHour, "X-RateLimit-Remaining-Hour"},
	{domain.TierDay, "X-RateLimit-Remaining-Day"},
}

// setAllowHeaders adiciona headers informativos sem bloquear. X-RateLimit-Reset
// só aparece quando a janela mais próxima reinicia dentro de proximity.
func setAllowHeaders(h http.Header, dec domain.Decision, now time.Time, proximity time.Duration) {
	for _, th := range tierHeaders {
		if n, ok := dec.Remaining[th.tier]; ok {
			h.Set(th.header, formatInt(n))
		}
	}
	if !dec.ResetAt.IsZero() && dec.ResetAt.Sub(now) <= proximity {
		h.Set("X-RateLimit-Reset", formatInt(unixCeil(dec.ResetAt)))
	}
}
