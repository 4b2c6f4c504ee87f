package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"TPMForge/pkg/logger"
)

// Queue runs registered jobs off a Store with delayed retries and a
// dead-letter list.
type Queue struct {
	store  Store
	cfg    Config
	log    *logger.Logger
	prefix string
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	seq     atomic.Uint64
}

type Option func(*Queue)

// WithKeyPrefix namespaces the work, retry and dead-letter keys.
func WithKeyPrefix(prefix string) Option {
	return func(q *Queue) { q.prefix = prefix }
}

func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, cfg Config, opts ...Option) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	q := &Queue{
		store:  store,
		cfg:    cfg,
		log:    logger.Nop(),
		prefix: "forge:queue",
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register adds a job. A second job for the same type is ignored.
func (q *Queue) Register(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.Type()]; ok {
		q.log.Warn("queue: job already registered", logger.String("type", job.Type()))
		return
	}
	q.jobs[job.Type()] = job
}

// Start pings the store and launches the workers and the retry promoter.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if err := q.store.Ping(pctx); err != nil {
		return fmt.Errorf("queue store ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Add(1)
	go q.promoter(ctx)

	q.log.Info("queue started", logger.Int("workers", q.cfg.Workers), logger.String("prefix", q.prefix))
	return nil
}

// Stop cancels the workers and waits for them or for ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		q.log.Info("queue stopped")
		return nil
	}
}

// Close stops the queue with a bounded wait.
func (q *Queue) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return q.Stop(ctx)
}

// Enqueue stores a message for the job registered under kind.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	q.mu.RLock()
	running := q.running
	_, known := q.jobs[kind]
	q.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownType, kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	now := q.now()
	data, err := json.Marshal(Message{
		ID:      strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(q.seq.Add(1), 36),
		Type:    kind,
		Payload: body,
		At:      now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.store.Push(ctx, q.workKey(), data); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// PublishMessage lets the queue stand in as a log collector publisher.
func (q *Queue) PublishMessage(ctx context.Context, kind string, payload interface{}) error {
	return q.Enqueue(ctx, kind, payload)
}

// DeadLetters reports how many messages exhausted their retries.
func (q *Queue) DeadLetters(ctx context.Context) (int64, error) {
	return q.store.Len(ctx, q.deadKey())
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		data, err := q.store.Pop(ctx, q.workKey(), time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("queue: pop", logger.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if data == nil {
			continue
		}
		q.dispatch(ctx, data)
	}
}

func (q *Queue) dispatch(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		q.log.Error("queue: undecodable message", logger.Error(err))
		q.bury(ctx, data)
		return
	}

	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.log.Error("queue: no job", logger.String("type", msg.Type), logger.String("id", msg.ID))
		q.bury(ctx, data)
		return
	}

	err := job.Handle(ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	q.log.Warn("queue: job failed",
		logger.String("type", msg.Type),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err),
	)
	if msg.Attempts >= q.cfg.RetryLimit {
		q.log.Error("queue: retries exhausted", logger.String("type", msg.Type), logger.String("id", msg.ID))
		q.bury(ctx, data)
		return
	}

	msg.Attempts++
	next, err := json.Marshal(msg)
	if err != nil {
		q.log.Error("queue: marshal retry", logger.Error(err))
		return
	}
	if err := q.store.Schedule(ctx, q.retryKey(), next, q.now().Add(q.backoff(msg.Attempts))); err != nil {
		q.log.Error("queue: schedule retry", logger.Error(err))
	}
}

// backoff doubles the base delay for each attempt, capped at 32x.
func (q *Queue) backoff(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), 5)
	return q.cfg.RetryDelay << shift
}

func (q *Queue) bury(ctx context.Context, data []byte) {
	if err := q.store.Push(ctx, q.deadKey(), data); err != nil {
		q.log.Error("queue: dead-letter", logger.Error(err))
	}
}

func (q *Queue) promoter(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) {
	due, err := q.store.Due(ctx, q.retryKey(), q.now())
	if err != nil {
		if ctx.Err() == nil {
			q.log.Error("queue: due retries", logger.Error(err))
		}
		return
	}
	for _, d := range due {
		if err := q.store.Promote(ctx, q.retryKey(), q.workKey(), d); err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("queue: promote retry", logger.Error(err))
		}
	}
}

func (q *Queue) workKey() string  { return q.prefix + ":messages" }
func (q *Queue) retryKey() string { return q.prefix + ":retry" }
func (q *Queue) deadKey() string  { return q.prefix + ":dlq" }

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
