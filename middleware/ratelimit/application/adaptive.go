package application

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// Adaptive aperta o limite por minuto conforme a carga local do processo e
// delega para LayeredWindow (hora/dia inalterados).
type Adaptive struct {
	Layered *LayeredWindow
	Monitor domain.LoadMonitor
}

// LoadFactor mapeia a carga (0..1) para o multiplicador do limite por minuto.
func LoadFactor(load float64) float64 {
	switch {
	case load > 0.8:
		return 0.5
	case load > 0.6:
		return 0.7
	default:
		return 1.0
	}
}

// EffectiveRule retorna o clone ajustado da regra para a carga informada.
// Os contadores ficam sob "<regra>_adaptive", independente do fator.
func EffectiveRule(rule domain.Rule, load float64) domain.Rule {
	adjusted := rule
	adjusted.Name = rule.Name + "_adaptive"
	adjusted.PerMinute = int64(float64(rule.PerMinute) * LoadFactor(load))
	return adjusted
}

func (a *Adaptive) adjust(rule domain.Rule) domain.Rule {
	var load float64
	if a.Monitor != nil {
		load = a.Monitor.Load()
	}
	adjusted := EffectiveRule(rule, load)
	if adjusted.PerMinute < rule.PerMinute && a.Monitor != nil {
		a.Monitor.RecordAdjustment(rule.Name)
	}
	return adjusted
}

func (a *Adaptive) Evaluate(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, error) {
	return a.Layered.Evaluate(ctx, id, a.adjust(rule))
}

func (a *Adaptive) Record(ctx context.Context, id domain.Identifier, rule domain.Rule) error {
	adjusted := rule
	adjusted.Name = rule.Name + "_adaptive"
	return a.Layered.Record(ctx, id, adjusted)
}

func (a *Adaptive) Reserve(ctx context.Context, id domain.Identifier, rule domain.Rule) (domain.Decision, Release, error) {
	return a.Layered.Reserve(ctx, id, a.adjust(rule))
}
