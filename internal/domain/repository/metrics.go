package repository

// Metrics records operational counters and gauges. Implementations must
// be safe for concurrent use; every method is called from hot paths.
type Metrics interface {
	RecordBacktest(status string, seconds float64)
	RecordBarsFetched(symbol string, n int)
	RecordTransition(kind string)
	RecordNotification(delivered bool)
	RecordMessageSent(backend, topic string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(symbol string, price float64)
	RecordLastBar(symbol string, unixSeconds int64)
}
