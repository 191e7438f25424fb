package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	backtests     *prometheus.CounterVec
	backtestTime  prometheus.Histogram
	barsFetched   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	lastBar       *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		backtests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zwatch_backtests_total",
				Help: "Total number of backtest runs by outcome",
			},
			[]string{"status"},
		),
		backtestTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zwatch_backtest_duration_seconds",
				Help:    "Duration of full backtest pipelines in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		barsFetched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zwatch_bars_fetched_total",
				Help: "Total number of bars fetched from market data",
			},
			[]string{"symbol"},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zwatch_signal_transitions_total",
				Help: "Total number of live position transitions by kind",
			},
			[]string{"kind"},
		),
		notifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zwatch_notifications_total",
				Help: "Total number of notification attempts by delivery outcome",
			},
			[]string{"delivered"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zwatch_messages_sent_total",
				Help: "Total number of messages sent to backend",
			},
			[]string{"backend", "topic"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zwatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zwatch_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		lastBar: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zwatch_last_closed_bar_seconds",
				Help: "Unix timestamp of the last processed closed bar",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordBacktest records one finished backtest run and its duration.
func (r *Recorder) RecordBacktest(status string, seconds float64) {
	r.backtests.WithLabelValues(status).Inc()
	r.backtestTime.Observe(seconds)
}

// RecordBarsFetched records bars returned by the market data client.
func (r *Recorder) RecordBarsFetched(symbol string, n int) {
	r.barsFetched.WithLabelValues(symbol).Add(float64(n))
}

// RecordTransition records one live position transition.
func (r *Recorder) RecordTransition(kind string) {
	r.transitions.WithLabelValues(kind).Inc()
}

// RecordNotification records a notification attempt outcome.
func (r *Recorder) RecordNotification(delivered bool) {
	v := "false"
	if delivered {
		v = "true"
	}
	r.notifications.WithLabelValues(v).Inc()
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, topic string) {
	r.messagesSent.WithLabelValues(backend, topic).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLastBar records the timestamp of the last processed closed bar.
func (r *Recorder) RecordLastBar(symbol string, unixSeconds int64) {
	r.lastBar.WithLabelValues(symbol).Set(float64(unixSeconds))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
