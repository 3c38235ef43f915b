package metrics

import "github.com/prometheus/client_golang/prometheus"

// Quota, persistence and generation Prometheus metrics.
var (
	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelquota",
			Name:      "quota_decisions_total",
			Help:      "Quota engine outcomes by operation",
		},
		[]string{"op", "result"}, // op: resolve/decrement; result: ok/exhausted/unlimited/error
	)

	StorePersistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelquota",
			Name:      "store_persist_total",
			Help:      "Usage store snapshot writes",
		},
		[]string{"status"},
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelquota",
			Name:      "generation_requests_total",
			Help:      "Image generation requests by outcome",
		},
		[]string{"model", "status"},
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pixelquota",
			Name:      "generation_request_duration_seconds",
			Help:      "Image generation request duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)

	GenerationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelquota",
			Name:      "generation_outcomes_total",
			Help:      "Generate calls by outcome",
		},
		[]string{"outcome"}, // ok/untracked/invalid/quota_exhausted/rate_limited/not_signed_in/error
	)

	SessionQuotaRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pixelquota",
			Name:      "session_quota_remaining",
			Help:      "Remaining generations of the signed-in user (-1 when unlimited or untracked)",
		},
	)
)

var quotaMetricsRegistered bool

// RegisterQuotaMetrics registers the domain metrics. Must be called once from main.
func RegisterQuotaMetrics() {
	if quotaMetricsRegistered {
		return
	}
	prometheus.MustRegister(QuotaDecisionsTotal)
	prometheus.MustRegister(StorePersistTotal)
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationRequestDuration)
	prometheus.MustRegister(GenerationOutcomesTotal)
	prometheus.MustRegister(SessionQuotaRemaining)
	quotaMetricsRegistered = true
}
