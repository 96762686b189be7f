package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// Mode define como os contadores das estratégias de janela são consumidos.
type Mode string

const (
	// ModeReserve incrementa-e-compara atomicamente no store (fecha a corrida
	// entre Evaluate e Record). Se uma regra posterior negar, as reservas das
	// regras anteriores são desfeitas.
	ModeReserve Mode = "reserve"
	// ModeCheckRecord avalia todas as regras e só depois grava o uso.
	ModeCheckRecord Mode = "check_record"
)

// ParseMode aceita "reserve" e "check_record".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReserve, ModeCheckRecord:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown counting mode %q", s)
}

type Config struct {
	Rules RuleTable
	Store domain.CounterStore
	// Monitor alimenta a estratégia adaptativa. Pode ser nil (carga 0).
	Monitor domain.LoadMonitor
	Mode    Mode
	Logger  *slog.Logger
	Now     func() time.Time
	// Limiters substitui as estratégias padrão (testes, estratégias novas).
	Limiters Limiters
	// ErrorLogInterval limita o log em nível warn das falhas fail-open.
	// Todas as falhas continuam logadas em nível debug.
	ErrorLogInterval time.Duration
}

// Service concentra a regra de aplicação do controle de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	rules    RuleTable
	store    domain.CounterStore
	limiters Limiters
	mode     Mode
	logger   *slog.Logger
	now      func() time.Time

	warnEvery  rate.Sometimes
	mu         sync.Mutex
	suppressed int64
}

func NewService(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeReserve
	}
	if cfg.ErrorLogInterval <= 0 {
		cfg.ErrorLogInterval = 10 * time.Second
	}
	if cfg.Limiters == nil && cfg.Store != nil {
		cfg.Limiters = DefaultLimiters(cfg.Store, cfg.Monitor, cfg.Now)
	}

	return &Service{
		rules:     cfg.Rules,
		store:     cfg.Store,
		limiters:  cfg.Limiters,
		mode:      cfg.Mode,
		logger:    cfg.Logger,
		now:       cfg.Now,
		warnEvery: rate.Sometimes{First: 1, Interval: cfg.ErrorLogInterval},
	}
}

func (s *Service) Rules() RuleTable { return s.rules }
func (s *Service) Mode() Mode       { return s.mode }

// pending guarda o que precisa ser gravado (check_record) ou desfeito (reserve).
type pending struct {
	rule    domain.Rule
	limiter Limiter
	release Release
}

// Decide aplica as regras na ordem declarada: a primeira que negar vence e as
// seguintes não são consultadas. Se todas permitirem, o uso é gravado.
// Qualquer falha interna resulta em OutcomeErrorFallbackAllow (fail-open).
func (s *Service) Decide(ctx context.Context, req domain.Request) (dec domain.Decision) {
	defer func() {
		if p := recover(); p != nil {
			dec = s.fallback(ctx, req, fmt.Errorf("admission panic: %v", p))
		}
	}()

	if s.store == nil || len(s.limiters) == 0 {
		return domain.Allow(nil)
	}

	rules := s.rules.Match(req.Path, req.Method, req.Identity.CallerType())
	remaining := map[domain.Tier]int64{}
	var resetAt time.Time
	var done []pending

	rollback := func() {
		for _, p := range done {
			if p.release == nil {
				continue
			}
			if err := p.release(ctx); err != nil {
				s.logger.WarnContext(ctx, "rate limit rollback failed", "rule", p.rule.Name, "identifier", req.Identifier, "error", err)
			}
		}
	}

	for _, rule := range rules {
		if Exempt(rule, req) {
			continue
		}
		lim, ok := s.limiters[rule.Strategy]
		if !ok {
			rollback()
			return s.fallback(ctx, req, fmt.Errorf("no limiter for strategy %q (rule %s)", rule.Strategy, rule.Name))
		}

		var (
			d   domain.Decision
			rel Release
			err error
		)
		if r, ok := lim.(Reserver); ok && s.mode == ModeReserve {
			d, rel, err = r.Reserve(ctx, req.Identifier, rule)
		} else {
			d, err = lim.Evaluate(ctx, req.Identifier, rule)
		}
		if err != nil {
			rollback()
			return s.fallback(ctx, req, fmt.Errorf("rule %s: %w", rule.Name, err))
		}
		if !d.Allowed() {
			rollback()
			d.Rule = rule.Name
			return d
		}

		done = append(done, pending{rule: rule, limiter: lim, release: rel})
		mergeRemaining(remaining, d.Remaining)
		if !d.ResetAt.IsZero() && (resetAt.IsZero() || d.ResetAt.Before(resetAt)) {
			resetAt = d.ResetAt
		}
	}

	for _, p := range done {
		if p.release != nil {
			continue // já consumido na reserva
		}
		if err := p.limiter.Record(ctx, req.Identifier, p.rule); err != nil {
			return s.fallback(ctx, req, fmt.Errorf("record rule %s: %w", p.rule.Name, err))
		}
	}

	out := domain.Allow(remaining)
	out.ResetAt = resetAt
	return out
}

// mergeRemaining mantém, por tier, o menor restante entre as regras.
func mergeRemaining(dst, src map[domain.Tier]int64) {
	for tier, n := range src {
		if cur, ok := dst[tier]; !ok || n < cur {
			dst[tier] = n
		}
	}
}

func (s *Service) fallback(ctx context.Context, req domain.Request, err error) domain.Decision {
	s.logger.DebugContext(ctx, "rate limit check failed, allowing request",
		"identifier", req.Identifier, "path", req.Path, "error", err)

	s.mu.Lock()
	s.suppressed++
	s.mu.Unlock()

	s.warnEvery.Do(func() {
		s.mu.Lock()
		n := s.suppressed
		s.suppressed = 0
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "rate limit check failed, failing open",
			"error", err, "failures_since_last_warning", n)
	})

	return domain.FallbackAllow(err)
}

// CheckOnce é um limite avulso por minuto, fora da tabela de regras
// (ex: "no máximo N envios de e-mail por minuto para este usuário").
// Falhas do store permitem (fail-open).
func (s *Service) CheckOnce(ctx context.Context, id domain.Identifier, name string, perMinute int64) bool {
	if s.store == nil {
		return true
	}
	w := windowAt(s.now(), time.Minute)
	key := fmt.Sprintf("rate_limit:check:%s:%s:%d", name, id, w.index)
	n, err := s.store.Increment(ctx, domain.NamespaceRateLimit, key, 1, time.Minute)
	if err != nil {
		s.fallback(ctx, domain.Request{Identifier: id}, fmt.Errorf("check %s: %w", name, err))
		return true
	}
	return n <= perMinute
}
