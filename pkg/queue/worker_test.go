package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scored struct {
	data []byte
	at   time.Time
}

// memStore keeps lists and sorted sets in memory.
type memStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
	sets  map[string][]scored
}

func newMemStore() *memStore {
	return &memStore{lists: map[string][][]byte{}, sets: map[string][]scored{}}
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) Push(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([][]byte{data}, s.lists[key]...)
	return nil
}

func (s *memStore) Pop(ctx context.Context, key string, wait time.Duration) ([]byte, error) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		l := s.lists[key]
		if n := len(l); n > 0 {
			d := l[n-1]
			s.lists[key] = l[:n-1]
			s.mu.Unlock()
			return d, nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
	return nil, nil
}

func (s *memStore) Schedule(_ context.Context, key string, data []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[key] = append(s.sets[key], scored{data: data, at: at})
	return nil
}

func (s *memStore) Due(_ context.Context, key string, now time.Time) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, z := range s.sets[key] {
		if !z.at.After(now) {
			out = append(out, z.data)
		}
	}
	return out, nil
}

func (s *memStore) Promote(_ context.Context, from, to string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sets[from][:0]
	for _, z := range s.sets[from] {
		if string(z.data) != string(data) {
			kept = append(kept, z)
		}
	}
	s.sets[from] = kept
	s.lists[to] = append([][]byte{data}, s.lists[to]...)
	return nil
}

func (s *memStore) Len(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

type note struct {
	Text string `json:"text"`
}

func TestEnqueueRequiresRunningQueueAndKnownType(t *testing.T) {
	q := New(newMemStore(), Config{})
	q.Register(JobFunc{Kind: "note", Fn: func(context.Context, json.RawMessage) error { return nil }})

	assert.ErrorIs(t, q.Enqueue(context.Background(), "note", note{"x"}), ErrNotRunning)

	require.NoError(t, q.Start())
	defer q.Close()
	assert.ErrorIs(t, q.Enqueue(context.Background(), "other", note{"x"}), ErrUnknownType)
	assert.Error(t, q.Start(), "second start")
}

func TestJobReceivesPayload(t *testing.T) {
	got := make(chan string, 1)
	q := New(newMemStore(), Config{Workers: 2})
	q.Register(JobFunc{Kind: "note", Fn: func(_ context.Context, p json.RawMessage) error {
		n, err := ParsePayload[note](p)
		if err != nil {
			return err
		}
		got <- n.Text
		return nil
	}})
	require.NoError(t, q.Start())
	defer q.Close()

	require.NoError(t, q.PublishMessage(context.Background(), "note", note{"hello"}))
	select {
	case text := <-got:
		assert.Equal(t, "hello", text)
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestFailedJobRetriesThenDeadLetters(t *testing.T) {
	var calls atomic.Int32
	q := New(newMemStore(), Config{RetryLimit: 2, RetryDelay: time.Millisecond, PollInterval: 5 * time.Millisecond})
	q.Register(JobFunc{Kind: "note", Fn: func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("endpoint down")
	}})
	require.NoError(t, q.Start())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), "note", note{"x"}))
	require.Eventually(t, func() bool {
		n, _ := q.DeadLetters(context.Background())
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
}

func TestRecoveredJobIsNotBuried(t *testing.T) {
	var calls atomic.Int32
	q := New(newMemStore(), Config{RetryLimit: 3, RetryDelay: time.Millisecond, PollInterval: 5 * time.Millisecond})
	q.Register(JobFunc{Kind: "note", Fn: func(context.Context, json.RawMessage) error {
		if calls.Add(1) == 1 {
			return errors.New("flaky")
		}
		return nil
	}})
	require.NoError(t, q.Start())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), "note", note{"x"}))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	n, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	q := New(newMemStore(), Config{RetryDelay: time.Second})
	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 32*time.Second, q.backoff(6))
	assert.Equal(t, 32*time.Second, q.backoff(20))
}

func TestStopIsIdempotent(t *testing.T) {
	q := New(newMemStore(), Config{})
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Start())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}
