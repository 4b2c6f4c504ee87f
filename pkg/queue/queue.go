package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotRunning is returned by Enqueue before Start or after Stop.
var ErrNotRunning = errors.New("queue not running")

// ErrUnknownType is returned when no job handles a message type.
var ErrUnknownType = errors.New("no job registered for type")

// Job handles one message type.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	Kind string
	Fn   func(ctx context.Context, payload json.RawMessage) error
}

func (j JobFunc) Type() string { return j.Kind }

func (j JobFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return j.Fn(ctx, payload)
}

// Message is the envelope stored in the backend.
type Message struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	At       time.Time       `json:"at"`
}

// Config tunes workers and retries.
type Config struct {
	Workers      int           // 1 when unset
	RetryLimit   int           // attempts after the first before dead-lettering
	RetryDelay   time.Duration // base delay, doubled per attempt; 10s when unset
	PollInterval time.Duration // how often due retries are promoted; 5s when unset
}

// Store is the list and sorted-set subset of Redis the queue needs.
type Store interface {
	Ping(ctx context.Context) error
	Push(ctx context.Context, key string, data []byte) error
	Pop(ctx context.Context, key string, wait time.Duration) ([]byte, error) // nil, nil on timeout
	Schedule(ctx context.Context, key string, data []byte, at time.Time) error
	Due(ctx context.Context, key string, now time.Time) ([][]byte, error)
	Promote(ctx context.Context, from, to string, data []byte) error
	Len(ctx context.Context, key string) (int64, error)
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
