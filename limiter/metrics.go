package limiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for admission decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the limiter collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundchat_ratelimit_decisions_total",
				Help: "Total number of admission decisions by key and result",
			},
			[]string{"key", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundchat_ratelimit_admit_duration_seconds",
				Help:    "Latency of the atomic admit round trip to the counter store",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~160ms
			},
			[]string{"key"},
		),
	}
}

func (m *Metrics) observe(key string, admitted bool, seconds float64) {
	if m == nil {
		return
	}
	result := "admitted"
	if !admitted {
		result = "rejected"
	}
	m.decisions.WithLabelValues(key, result).Inc()
	m.duration.WithLabelValues(key).Observe(seconds)
}
