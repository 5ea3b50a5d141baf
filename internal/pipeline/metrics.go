package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the Controller updates per
// request: the terminal-state count, end-to-end latency (StageLatency's
// "total" label), cache hits and misses, out-of-domain refusals and SQL
// validator rejections.
type Metrics struct {
	StageLatency  *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	SQLRejects    prometheus.Counter
	DomainOOD     prometheus.Counter
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the Controller's metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Pipeline stage latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_semantic_cache_hits_total",
			Help: "Total semantic cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_semantic_cache_misses_total",
			Help: "Total semantic cache misses.",
		}),
		SQLRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_sql_rejects_total",
			Help: "Total SQL plans rejected by the validator.",
		}),
		DomainOOD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_out_of_domain_total",
			Help: "Total requests classified out_of_domain.",
		}),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_requests_total",
				Help: "Total pipeline requests by terminal state.",
			},
			[]string{"terminal_state"},
		),
	}

	reg.MustRegister(m.StageLatency, m.CacheHits, m.CacheMisses, m.SQLRejects, m.DomainOOD, m.RequestsTotal)
	return m
}
