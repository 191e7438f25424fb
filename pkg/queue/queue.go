package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job is a named handler for one message type. Type routes messages to
// the job; Name only shows up in logs and metrics.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// Enqueuer is the producing side of the queue.
type Enqueuer interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Observer is notified after every job attempt, successful or not.
type Observer func(jobName string, attempt int, elapsed time.Duration, err error)

// Config tunes the worker pool and retry policy.
type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload converts a queued payload back into its concrete type.
// Locally passed payloads arrive as T or *T; payloads that crossed
// Redis arrive as decoded JSON and are re-encoded into T.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		var v T
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return &v, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload %T: %w", payload, err)
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decode payload %T: %w", payload, err)
		}
		return &v, nil
	}
}
