package models

// Tick is one live trade print from the streaming feed. Timestamp is unix
// seconds.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}
