// Package config carrega a tabela de regras de rate limit (arquivo YAML ou
// tabela padrão) e valida tudo no startup. Configuração inválida é fatal:
// o processo não deve servir tráfego com regras malformadas.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

const defaultBurstAllowance = 10

// defaultMethods é aplicado quando "methods" é omitido na regra.
// Uma lista vazia explícita ("methods: []") significa qualquer método.
var defaultMethods = []string{"POST", "PUT", "DELETE"}

var knownUserTypes = map[string]bool{
	domain.CallerAdmin:     true,
	domain.CallerAPIUser:   true,
	domain.CallerUser:      true,
	domain.CallerAnonymous: true,
}

// RuleEntry é a forma serializada de uma regra.
type RuleEntry struct {
	Name           string   `yaml:"name"`
	PerMinute      int64    `yaml:"per_minute"`
	PerHour        int64    `yaml:"per_hour"`
	PerDay         int64    `yaml:"per_day"`
	BurstAllowance *int64   `yaml:"burst_allowance"`
	Strategy       string   `yaml:"strategy"`
	Paths          []string `yaml:"paths"`
	Methods        []string `yaml:"methods"`
	UserTypes      []string `yaml:"user_types"`
	ExemptedIPs    []string `yaml:"exempted_ips"`
	ExemptedUsers  []string `yaml:"exempted_users"`
}

type File struct {
	Rules []RuleEntry `yaml:"rules"`
}

// ValidationError representa um erro de validação da configuração.
type ValidationError struct {
	Rule    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: rule %q: %s: %s", e.Rule, e.Field, e.Message)
}

// LoadRules lê e valida o arquivo de regras.
func LoadRules(path string) ([]domain.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := ParseRules(raw)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodifica YAML (campos desconhecidos são rejeitados) e valida.
func ParseRules(raw []byte) ([]domain.Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, &ValidationError{Field: "rules", Message: "at least one rule is required"}
	}

	rules := make([]domain.Rule, 0, len(f.Rules))
	for _, entry := range f.Rules {
		rules = append(rules, entry.toRule())
	}
	if err := Validate(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s RuleEntry) toRule() domain.Rule {
	burst := int64(defaultBurstAllowance)
	if s.BurstAllowance != nil {
		burst = *s.BurstAllowance
	}
	strategy := domain.Strategy(strings.ToLower(strings.TrimSpace(s.Strategy)))
	if strategy == "" {
		strategy = domain.StrategySlidingWindow
	}
	methods := s.Methods
	if methods == nil {
		methods = defaultMethods
	}
	upper := make([]string, len(methods))
	for i, m := range methods {
		upper[i] = strings.ToUpper(strings.TrimSpace(m))
	}

	return domain.Rule{
		Name:           strings.TrimSpace(s.Name),
		PerMinute:      s.PerMinute,
		PerHour:        s.PerHour,
		PerDay:         s.PerDay,
		BurstAllowance: burst,
		Strategy:       strategy,
		Paths:          s.Paths,
		Methods:        upper,
		UserTypes:      s.UserTypes,
		ExemptedIPs:    s.ExemptedIPs,
		ExemptedUsers:  s.ExemptedUsers,
	}
}

// Validate verifica a tabela inteira e junta todos os erros encontrados.
func Validate(rules []domain.Rule) error {
	var errs []error
	add := func(rule, field, msg string) {
		errs = append(errs, &ValidationError{Rule: rule, Field: field, Message: msg})
	}

	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		name := r.Name
		if name == "" {
			add(fmt.Sprintf("#%d", i), "name", "is required")
		} else if seen[name] {
			add(name, "name", "is duplicated")
		}
		seen[name] = true

		if r.PerMinute <= 0 {
			add(name, "per_minute", "must be > 0")
		}
		if r.PerHour <= 0 {
			add(name, "per_hour", "must be > 0")
		}
		if r.PerDay <= 0 {
			add(name, "per_day", "must be > 0")
		}
		if r.BurstAllowance <= 0 {
			add(name, "burst_allowance", "must be > 0")
		}
		if !r.Strategy.Valid() {
			add(name, "strategy", fmt.Sprintf("unknown strategy %q", r.Strategy))
		}
		for _, p := range r.Paths {
			if !strings.HasPrefix(p, "/") {
				add(name, "paths", fmt.Sprintf("%q must start with /", p))
			}
		}
		for _, m := range r.Methods {
			if m == "" || strings.ContainsAny(m, " \t/") {
				add(name, "methods", fmt.Sprintf("invalid method %q", m))
			}
		}
		for _, u := range r.UserTypes {
			if !knownUserTypes[u] {
				add(name, "user_types", fmt.Sprintf("unknown user type %q", u))
			}
		}
		for _, ip := range r.ExemptedIPs {
			if _, err := netip.ParseAddr(ip); err != nil {
				add(name, "exempted_ips", fmt.Sprintf("invalid ip %q", ip))
			}
		}
	}
	return errors.Join(errs...)
}

// NewRule cria uma regra derivando hora = ×60 e dia = ×1440 do limite por minuto.
// Sem métodos informados, aplica POST/PUT/DELETE.
func NewRule(name string, perMinute int64, paths []string, methods []string) domain.Rule {
	if methods == nil {
		methods = defaultMethods
	}
	return domain.Rule{
		Name:           name,
		PerMinute:      perMinute,
		PerHour:        perMinute * 60,
		PerDay:         perMinute * 60 * 24,
		BurstAllowance: defaultBurstAllowance,
		Strategy:       domain.StrategySlidingWindow,
		Paths:          paths,
		Methods:        methods,
	}
}

// DefaultRules é a tabela usada quando nenhum arquivo é informado.
func DefaultRules() []domain.Rule {
	return []domain.Rule{
		{
			Name:           "general_api",
			PerMinute:      60,
			PerHour:        1000,
			PerDay:         10000,
			BurstAllowance: 10,
			Strategy:       domain.StrategySlidingWindow,
			Paths:          []string{"/api/v1/"},
			Methods:        []string{"GET", "POST", "PUT", "DELETE"},
		},
		{
			Name:           "chat_api",
			PerMinute:      30,
			PerHour:        500,
			PerDay:         2000,
			BurstAllowance: 5,
			Strategy:       domain.StrategySlidingWindow,
			Paths:          []string{"/api/v1/chat/"},
			Methods:        []string{"POST"},
		},
		{
			Name:           "tools_api",
			PerMinute:      10,
			PerHour:        100,
			PerDay:         500,
			BurstAllowance: 3,
			Strategy:       domain.StrategySlidingWindow,
			Paths:          []string{"/api/v1/tools/"},
			Methods:        []string{"POST"},
		},
		{
			Name:           "auth_api",
			PerMinute:      5,
			PerHour:        50,
			PerDay:         200,
			BurstAllowance: 2,
			Strategy:       domain.StrategySlidingWindow,
			Paths:          []string{"/auth/"},
			Methods:        []string{"POST"},
		},
	}
}
