package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Identifier é a chave contra a qual as cotas são contabilizadas
// (ex: "user:42", "api_key:<sha256>", "session:abc", "ip:1.2.3.4").
type Identifier string

// Strategy é o conjunto fechado de algoritmos suportados por uma regra.
type Strategy string

const (
	StrategyFixedWindow Strategy = "fixed_window"
	// StrategySlidingWindow é, na prática, três janelas fixas em camadas
	// (minuto, hora, dia). O nome foi mantido por compatibilidade de configuração.
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategyAdaptive      Strategy = "adaptive"
)

// Valid informa se s é uma das estratégias conhecidas.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFixedWindow, StrategySlidingWindow, StrategyTokenBucket, StrategyAdaptive:
		return true
	}
	return false
}

// Tier identifica uma dimensão de contagem reportada em Decision.Remaining.
type Tier string

const (
	TierMinute Tier = "minute"
	TierHour   Tier = "hour"
	TierDay    Tier = "day"
	// TierTokens é usado pelo token bucket (tokens restantes no balde).
	TierTokens Tier = "tokens"
)

// Window retorna o tamanho da janela do tier. Tiers sem janela retornam 0.
func (t Tier) Window() time.Duration {
	switch t {
	case TierMinute:
		return time.Minute
	case TierHour:
		return time.Hour
	case TierDay:
		return 24 * time.Hour
	}
	return 0
}

// Caller types derivados dos papéis da identidade.
const (
	CallerAdmin     = "admin"
	CallerAPIUser   = "api_user"
	CallerUser      = "user"
	CallerAnonymous = "anonymous"
)

// Rule descreve uma regra de rate limit. É criada no startup e nunca alterada.
//
// Listas vazias em Paths/Methods/UserTypes significam "qualquer valor".
type Rule struct {
	Name string

	PerMinute int64
	PerHour   int64
	PerDay    int64

	// BurstAllowance é a capacidade do token bucket.
	BurstAllowance int64
	Strategy       Strategy

	Paths     []string
	Methods   []string
	UserTypes []string

	ExemptedIPs   []string
	ExemptedUsers []string
}

// Limit retorna o limite configurado para um tier de janela.
func (r Rule) Limit(t Tier) int64 {
	switch t {
	case TierMinute:
		return r.PerMinute
	case TierHour:
		return r.PerHour
	case TierDay:
		return r.PerDay
	}
	return 0
}

// Identity é a identidade já resolvida por um colaborador de autenticação.
// O controle de admissão apenas lê esses dados.
type Identity struct {
	UserID string
	Roles  []string
}

// HasRole informa se a identidade possui o papel informado.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CallerType deriva o tipo de chamador usado no casamento de regras.
func (i *Identity) CallerType() string {
	if i == nil {
		return CallerAnonymous
	}
	switch {
	case i.HasRole(CallerAdmin):
		return CallerAdmin
	case i.HasRole(CallerAPIUser):
		return CallerAPIUser
	default:
		return CallerUser
	}
}

// Request é a visão agnóstica de HTTP de uma requisição sendo admitida.
type Request struct {
	Identifier Identifier
	Identity   *Identity
	ClientIP   string
	Method     string
	Path       string
}

// Outcome é o resultado tipado de uma decisão.
type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeDenied
	// OutcomeErrorFallbackAllow indica que houve falha interna (store, etc.)
	// e a requisição foi admitida por política fail-open.
	OutcomeErrorFallbackAllow
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	case OutcomeErrorFallbackAllow:
		return "error_fallback_allow"
	}
	return "unknown"
}

type Decision struct {
	Outcome Outcome
	// Rule é o nome da regra que negou (vazio quando permitido).
	Rule      string
	Remaining map[Tier]int64
	// ResetAt é quando a janela que negou reinicia. Zero quando não se aplica.
	ResetAt time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Err carrega a causa quando Outcome == OutcomeErrorFallbackAllow.
	Err error
}

// Allowed informa se a requisição pode prosseguir (inclusive via fail-open).
func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeDenied
}

// Allow cria uma decisão positiva com os restantes informados.
func Allow(remaining map[Tier]int64) Decision {
	return Decision{Outcome: OutcomeAllowed, Remaining: remaining}
}

// FallbackAllow cria a decisão fail-open para um erro interno.
func FallbackAllow(err error) Decision {
	return Decision{Outcome: OutcomeErrorFallbackAllow, Err: err}
}
