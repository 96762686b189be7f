package ratelimit

import (
	"log/slog"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

// SlowRecorder recebe as respostas lentas (ex: infra.MemoryStatsStore).
type SlowRecorder interface {
	RecordSlowResponse()
}

type Options struct {
	Service  *application.Service
	Stats    domain.StatsStore
	Resolver Resolver
	Logger   *slog.Logger

	RejectStatus int
	// ResetProximity controla quando X-RateLimit-Reset é enviado em respostas permitidas.
	ResetProximity time.Duration
	// SlowThreshold: respostas acima disso são contadas e logadas. 0 desliga.
	SlowThreshold time.Duration
	Slow          SlowRecorder

	Now func() time.Time
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.ResetProximity == 0 {
		opts.ResetProximity = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		if opts.Service == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := opts.Now()
			ctx := r.Context()

			ident := IdentityFrom(ctx)
			req := domain.Request{
				Identifier: opts.Resolver.Identifier(r, ident),
				Identity:   ident,
				ClientIP:   opts.Resolver.ClientIP(r),
				Method:     r.Method,
				Path:       r.URL.Path,
			}

			dec := opts.Service.Decide(ctx, req)
			if opts.Stats != nil {
				if err := opts.Stats.Record(ctx, domain.StatsEvent{
					Identifier: req.Identifier,
					Outcome:    dec.Outcome,
					Rule:       dec.Rule,
					Method:     req.Method,
					Path:       req.Path,
					Latency:    opts.Now().Sub(start),
					At:         start,
				}); err != nil {
					opts.Logger.DebugContext(ctx, "rate limit stats record failed", "error", err)
				}
			}

			if !dec.Allowed() {
				opts.Logger.InfoContext(ctx, "request rate limited",
					"rule", dec.Rule,
					"identifier", req.Identifier,
					"path", req.Path,
					"retry_after", dec.RetryAfter,
					"request_id", r.Header.Get("X-Request-ID"))
				writeDenied(w, dec, opts.RejectStatus)
				return
			}

			setAllowHeaders(w.Header(), dec, start, opts.ResetProximity)
			next.ServeHTTP(w, r)

			if opts.SlowThreshold > 0 {
				if elapsed := opts.Now().Sub(start); elapsed > opts.SlowThreshold {
					if opts.Slow != nil {
						opts.Slow.RecordSlowResponse()
					}
					opts.Logger.InfoContext(ctx, "slow response", "path", req.Path, "elapsed", elapsed)
				}
			}
		})
	}
}
