// Package ratelimit fornece o adapter HTTP (net/http) do controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casamento de regras, exceções, estratégias e o Service (sem net/http)
//   - infra: counter stores (Redis, memória) e sinks de estatística (memória, Redis, Prometheus)
//   - config: carga e validação da tabela de regras
//   - ratelimit (este pacote): middleware HTTP + identidade/identificador + tradução para status/headers
//
// Fluxo por requisição:
//
//  1. Resolve o identificador (usuário > API key > sessão > IP)
//  2. Chama Service.Decide com path/método/identidade
//  3. Se negado, responde 429 com Retry-After, X-RateLimit-* e corpo JSON
//  4. Se permitido (inclusive por fail-open), adiciona X-RateLimit-Remaining-* e chama o próximo handler
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como COUNTER_STORE, REDIS_ADDR, RATE_RULES_FILE e RATE_COUNTING_MODE.
package ratelimit
