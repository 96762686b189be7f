package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStatsStore exporta as decisões como métricas Prometheus.
// Os labels usam apenas regra e resultado (nunca o identificador) para
// manter a cardinalidade baixa.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
	hits      *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewPrometheusStatsStore registra os coletores em reg. Se reg for nil, usa o
// registry padrão.
func NewPrometheusStatsStore(reg prometheus.Registerer) *PrometheusStatsStore {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusStatsStore{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Total number of admission decisions by outcome",
			},
			[]string{"outcome"},
		),
		hits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_rate_limit_hits_total",
				Help: "Total number of requests denied, by rule",
			},
			[]string{"rule"},
		),
		latency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50µs a ~100ms
			},
		),
	}
}

func (p *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	p.decisions.WithLabelValues(ev.Outcome.String()).Inc()
	if ev.Outcome == domain.OutcomeDenied && ev.Rule != "" {
		p.hits.WithLabelValues(ev.Rule).Inc()
	}
	if ev.Latency > 0 {
		p.latency.Observe(ev.Latency.Seconds())
	}
	return nil
}
