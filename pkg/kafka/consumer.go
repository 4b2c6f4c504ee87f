package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"TPMForge/pkg/logger"
)

// MessageHandler consumes the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// ConsumerConfig holds consumer group settings.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string // earliest or latest, used when the group has no offset
	WorkerCount     int
	BufferSize      int
	RetryMax        int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	DLQTopic        string
	MinBytes        int
	MaxBytes        int
	Logger          *logger.Logger
}

type ConsumerOption func(*ConsumerConfig)

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

func WithConsumerAutoOffsetReset(reset string) ConsumerOption {
	return func(c *ConsumerConfig) { c.AutoOffsetReset = reset }
}

func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.WorkerCount = n
		}
	}
}

// WithConsumerRetry sets how often a failing handler is retried and the
// jittered backoff bounds between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ forwards messages that exhaust their retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// reader is the part of *kafka.Reader the consumer drives. Offsets are
// committed explicitly after a message is handled or dead-lettered.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type delivery struct {
	topic string
	km    kafka.Message
}

// Consumer fans fetched messages out to a worker pool. Messages of one
// partition are handled one at a time.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	hook     ConsumerHook
	metrics  *clientMetrics
	handlers map[string]MessageHandler
	readers  map[string]reader
	dlq      Writer
	open     func(topic string) reader

	jobs     chan delivery
	stop     chan struct{}
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once

	partMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "default",
		AutoOffsetReset: "earliest",
		WorkerCount:     1,
		BufferSize:      10,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        10e3,
		MaxBytes:        10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	c := &Consumer{
		cfg:       cfg,
		log:       cfg.Logger,
		metrics:   kafkaMetrics(),
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]reader),
		jobs:      make(chan delivery, cfg.BufferSize),
		stop:      make(chan struct{}),
		partLocks: make(map[string]map[int]*sync.Mutex),
	}
	c.open = c.openReader
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// WithConsumerHook installs h around every handler call.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler adds h for its topic; the first handler for a topic wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.log.Warn("kafka consumer: handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) openReader(topic string) reader {
	start := kafka.FirstOffset
	if c.cfg.AutoOffsetReset == "latest" {
		start = kafka.LastOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		Topic:       topic,
		GroupID:     c.cfg.GroupID,
		MinBytes:    c.cfg.MinBytes,
		MaxBytes:    c.cfg.MaxBytes,
		StartOffset: start,
	})
}

// Start opens one reader per registered topic and launches the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = c.open(topic)
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workers.Add(1)
		go c.work()
	}
	for topic, r := range c.readers {
		c.fetchers.Add(1)
		go c.fetch(topic, r)
	}

	c.log.Info("kafka consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.WorkerCount),
	)
	return nil
}

// Stop halts fetching, lets workers drain what was already fetched and
// closes the readers. It waits at most until ctx is done.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)

		done := make(chan struct{})
		go func() {
			c.fetchers.Wait()
			close(c.jobs)
			c.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Error("kafka consumer: close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Error("kafka consumer: close dead-letter writer", logger.Error(cerr))
			}
		}
		c.log.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(topic string, r reader) {
	defer c.fetchers.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stop
		cancel()
	}()

	failures := 0
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.Error("kafka consumer: fetch", logger.String("topic", topic), logger.Error(err))
			if !c.pause(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		select {
		case c.jobs <- delivery{topic: topic, km: km}:
			c.metrics.backlog.WithLabelValues(topic).Set(float64(len(c.jobs)))
		case <-c.stop:
			return
		}
	}
}

func (c *Consumer) work() {
	defer c.workers.Done()
	for d := range c.jobs {
		c.process(d)
	}
}

// process handles one message with retries. The offset is committed when the
// handler succeeds or the message was dead-lettered, so a poison message
// cannot stall its partition.
func (c *Consumer) process(d delivery) {
	h, ok := c.handlers[d.topic]
	if !ok {
		return
	}
	lock := c.getPartitionLock(d.topic, d.km.Partition)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	attempts, err := c.handle(h, d)
	c.metrics.handleSeconds.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())

	commit := err == nil
	if err != nil {
		c.metrics.consumed.WithLabelValues(d.topic, "failed").Inc()
		c.log.Error("kafka consumer: message failed",
			logger.String("topic", d.topic),
			logger.Int("partition", d.km.Partition),
			logger.Int64("offset", d.km.Offset),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
		commit = c.deadLetter(d)
	} else {
		c.metrics.consumed.WithLabelValues(d.topic, "ok").Inc()
	}
	if commit {
		c.commit(d)
	}
}

func (c *Consumer) handle(h MessageHandler, d delivery) (attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	for attempts = 1; ; attempts++ {
		ctx, km, data := context.Background(), d.km, d.km.Value
		if c.hook != nil {
			ctx, km, data, err = c.hook.BeforeHandle(ctx, d.topic, km, data)
			if err != nil {
				return attempts, err
			}
		}
		err = h.Handle(ctx, data)
		if c.hook != nil {
			c.hook.AfterHandle(ctx, d.topic, km, data, err)
		}
		if err == nil || attempts > c.cfg.RetryMax {
			return attempts, err
		}
		if c.hook != nil {
			c.hook.OnError(ctx, d.topic, km, data, err)
		}
		if !c.pause(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return attempts, err
		}
	}
}

// deadLetter reports whether the message was forwarded.
func (c *Consumer) deadLetter(d delivery) bool {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		return false
	}
	headers := append([]kafka.Header{{Key: "source_topic", Value: []byte(d.topic)}}, d.km.Headers...)
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     d.km.Key,
		Value:   d.km.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		c.log.Error("kafka consumer: dead-letter", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	c.metrics.deadLettered.WithLabelValues(d.topic).Inc()
	return true
}

func (c *Consumer) commit(d delivery) {
	r, ok := c.readers[d.topic]
	if !ok {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, d.km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka consumer: commit", logger.String("topic", d.topic), logger.Int64("offset", d.km.Offset), logger.Error(err))
}

// pause sleeps for d and reports false if the consumer is stopping.
func (c *Consumer) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Consumer) getPartitionLock(topic string, partition int) *sync.Mutex {
	c.partMu.Lock()
	defer c.partMu.Unlock()

	byPart, ok := c.partLocks[topic]
	if !ok {
		byPart = make(map[int]*sync.Mutex)
		c.partLocks[topic] = byPart
	}
	if l, ok := byPart[partition]; ok {
		return l
	}
	l := &sync.Mutex{}
	byPart[partition] = l
	return l
}

// backoffWithJitter doubles min per attempt up to max and subtracts up to
// half of it at random.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := max
	if shift := attempt - 1; shift < 30 {
		if exp := min << uint(shift); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int64N(half))
	}
	return d
}
