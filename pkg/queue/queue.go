package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicate means an equivalent message is already pending.
	ErrDuplicate = errors.New("queue: duplicate message")
	// ErrNotRunning is returned by Enqueue before Start or after Stop.
	ErrNotRunning = errors.New("queue: not running")
)

// QueueService publishes work for the queue workers.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig tunes the workers.
type QueueConfig struct {
	Workers     int           // concurrent handlers
	RetryLimit  int           // retries before a message is dead-lettered
	RetryDelay  time.Duration // base delay, multiplied by the attempt number
	DedupeTTL   time.Duration // upper bound on how long a dedupe key is held
	PollTimeout time.Duration // BRPOP block time, bounds Stop latency
}

// Message is the envelope stored in redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ParsePayload converts a payload back into T. It accepts T, *T, the raw JSON a
// worker hands to Job.Handle, and the generic maps and slices of a JSON round trip.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(b, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
