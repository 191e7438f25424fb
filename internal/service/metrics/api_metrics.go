package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zwatch",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of backtest API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zwatch",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by backtest API endpoint",
		},
		[]string{"endpoint"},
	)
)

// Register installs the collectors once; repeat calls are no-ops.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors)
	})
}
