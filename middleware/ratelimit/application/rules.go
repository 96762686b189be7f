package application

import (
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// RuleTable é a tabela ordenada de regras. Somente leitura após a criação,
// por isso não precisa de lock.
type RuleTable struct {
	rules []domain.Rule
}

func NewRuleTable(rules []domain.Rule) RuleTable {
	cp := make([]domain.Rule, len(rules))
	copy(cp, rules)
	return RuleTable{rules: cp}
}

func (t RuleTable) Len() int { return len(t.rules) }

// Rules retorna uma cópia das regras na ordem declarada.
func (t RuleTable) Rules() []domain.Rule {
	cp := make([]domain.Rule, len(t.rules))
	copy(cp, t.rules)
	return cp
}

// Match retorna as regras aplicáveis preservando a ordem da tabela.
// Listas vazias na regra casam com qualquer valor.
func (t RuleTable) Match(path, method, callerType string) []domain.Rule {
	var out []domain.Rule
	for _, r := range t.rules {
		if !matchPrefix(r.Paths, path) {
			continue
		}
		if !matchFold(r.Methods, method) {
			continue
		}
		if !matchExact(r.UserTypes, callerType) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchPrefix(prefixes []string, path string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func matchFold(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func matchExact(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	return contains(set, v)
}

// Exempt informa se a regra deve ser pulada para a requisição: IP na lista,
// usuário na lista ou papel admin. Regras isentas não bloqueiam nem contam uso.
func Exempt(rule domain.Rule, req domain.Request) bool {
	if req.ClientIP != "" && contains(rule.ExemptedIPs, req.ClientIP) {
		return true
	}
	if req.Identity == nil {
		return false
	}
	if req.Identity.UserID != "" && contains(rule.ExemptedUsers, req.Identity.UserID) {
		return true
	}
	return req.Identity.HasRole(domain.CallerAdmin)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
