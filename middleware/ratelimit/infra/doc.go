// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore: counter store compartilhado (go-redis), incremento com TTL via script Lua
//   - MemoryCounterStore: counter store em memória com expiração, para um processo / testes
//   - MemoryStatsStore: agregador local (carga para a estratégia adaptativa, health)
//   - RedisStatsStore / PrometheusStatsStore: sinks de observabilidade
package infra
