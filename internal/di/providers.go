package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/domain/repository"
	"TPMForge/internal/handler/api"
	mid "TPMForge/internal/middleware"
	internalrepo "TPMForge/internal/repository"
	"TPMForge/internal/service/ratelimit"
	"TPMForge/internal/services/agents"
	"TPMForge/internal/services/alpha"
	"TPMForge/internal/services/fitness"
	"TPMForge/internal/services/notify"
	"TPMForge/internal/services/validation"
	"TPMForge/internal/usecase"
	"TPMForge/pkg/cache"
	pkgch "TPMForge/pkg/clickhouse"
	"TPMForge/pkg/config"
	xhttp "TPMForge/pkg/http"
	pkgkafka "TPMForge/pkg/kafka"
	"TPMForge/pkg/logger"
	"TPMForge/pkg/metrics"
	"TPMForge/pkg/queue"
	"TPMForge/pkg/server"
)

// ProvideLogger builds the application logger from logging.*.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideHTTPClient is shared by agent sources and webhooks.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Engine.FetchTimeout))
}

// ProvideRedis connects to Redis when redis.enabled, otherwise nil.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers memory over Redis when Redis is up, else memory only.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(1000),
		cache.WithLayeredMemoryTTL(5*time.Second),
	)
}

func usesKafka(cfg *config.Config) bool {
	return cfg.Backend.Type == config.BackendKafka || cfg.Backend.Type == config.BackendBoth
}

func usesClickHouse(cfg *config.Config) bool {
	return cfg.Backend.Type == config.BackendClickHouse || cfg.Backend.Type == config.BackendBoth
}

// ProvideClickHouseClient creates a ClickHouse client when the backend or a
// warm start needs one.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !usesClickHouse(cfg) && !cfg.Engine.WarmStart {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a producer for frames and alerts, or for the
// log collector alone.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !usesKafka(cfg) && !cfg.Logging.Collect.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreate),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher returns a nil interface, not a typed nil, when frames are
// not published.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil || !usesKafka(cfg) {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics.Frames, cfg.Kafka.Topics.Alerts)
}

// ProvideStorage creates the ClickHouse sink and its tables.
func ProvideStorage(ch *pkgch.Client, cfg *config.Config, l *logger.Logger) (repository.Storage, error) {
	if ch == nil || !usesClickHouse(cfg) {
		return nil, nil
	}
	sink := internalrepo.NewClickHouseSink(ch, l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sink.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return sink, nil
}

// ProvideObservationStore reads history back for warm starts.
func ProvideObservationStore(ch *pkgch.Client, cfg *config.Config) repository.ObservationStore {
	if ch == nil || !cfg.Engine.WarmStart {
		return nil
	}
	return internalrepo.NewCHObservationStore(ch)
}

func ProvideFrameProcessor(
	pub repository.Publisher,
	store repository.Storage,
	m repository.Metrics,
	cfg *config.Config,
) (*usecase.FrameProcessor, error) {
	return usecase.NewFrameProcessor(pub, store, m, cfg.Backend.Type)
}

// ProvideParserRegistry returns the built-in payload parsers.
func ProvideParserRegistry() *agents.Registry {
	return agents.NewRegistry()
}

// ProvideFetcher reads agents through their fallback sources with a circuit
// breaker per source and the cache as last-good store.
func ProvideFetcher(
	client *xhttp.Client,
	parsers *agents.Registry,
	c cache.Service,
	m repository.Metrics,
	l *logger.Logger,
	cfg *config.Config,
) *agents.Fetcher {
	return agents.NewFetcher(client, parsers,
		agents.WithFetcherLogger(l),
		agents.WithFetcherMetrics(m),
		agents.WithLastGood(c),
		agents.WithStaleTTL(cfg.Engine.StaleTTL),
		agents.WithBreaker(uint32(cfg.Engine.BreakerFailures), cfg.Engine.BreakerTimeout),
	)
}

func agentSpecs(in []config.AgentConfig) []models.AgentSpec {
	out := make([]models.AgentSpec, 0, len(in))
	for _, a := range in {
		spec := models.AgentSpec{Name: a.Name, Domain: a.Domain, Market: a.Market, Weight: a.Weight}
		for _, s := range a.Sources {
			spec.Sources = append(spec.Sources, models.SourceSpec{Kind: s.Kind, URL: s.URL})
		}
		out = append(out, spec)
	}
	return out
}

// ProvideAgentRegistry seeds the registry from agents[]; an unknown source
// kind fails startup.
func ProvideAgentRegistry(parsers *agents.Registry, cfg *config.Config) (*usecase.AgentRegistry, error) {
	reg, err := usecase.NewAgentRegistry(parsers, agentSpecs(cfg.Agents))
	if err != nil {
		return nil, config.NewConfigurationError("agents", "%v", err)
	}
	return reg, nil
}

// ProvideQueue starts the Redis outbox queue when alerts.outbox is enabled.
func ProvideQueue(rc *cache.RedisCache, cfg *config.Config, l *logger.Logger) (*queue.Queue, error) {
	if rc == nil || !cfg.Alerts.Outbox.Enabled {
		return nil, nil
	}
	q := queue.New(queue.NewRedisStore(rc.Client()), queue.Config{
		Workers:    cfg.Alerts.Outbox.Workers,
		RetryLimit: cfg.Alerts.Outbox.RetryLimit,
		RetryDelay: cfg.Alerts.Outbox.RetryDelay,
	},
		queue.WithKeyPrefix(cfg.Redis.Prefix+":outbox"),
		queue.WithLogger(l),
	)
	return q, nil
}

// ProvideNotifier posts to alerts.webhooks, through the outbox when one runs.
// No webhooks means no notifier.
func ProvideNotifier(client *xhttp.Client, q *queue.Queue, l *logger.Logger, cfg *config.Config) (repository.Notifier, error) {
	wh := notify.NewWebhook(client, cfg.Alerts.Webhooks, l)
	if !wh.Enabled() {
		return nil, nil
	}
	if q == nil {
		return wh, nil
	}
	ob := notify.NewOutbox(q, wh)
	if err := q.Start(); err != nil {
		return nil, fmt.Errorf("outbox queue: %w", err)
	}
	return ob, nil
}

func ProvideDetectorBank(proc *usecase.FrameProcessor, m repository.Metrics, l *logger.Logger, cfg *config.Config) *usecase.DetectorBank {
	return usecase.NewDetectorBank(alpha.Config(cfg.Detector), proc, m, l)
}

func ProvideFrameHub() *usecase.FrameHub {
	return usecase.NewFrameHub(16)
}

// ProvideFrameCache keeps the latest frame for two intervals.
func ProvideFrameCache(c cache.Service, cfg *config.Config) repository.FrameCache {
	return internalrepo.NewCachedFrames(c, 2*cfg.Engine.Interval)
}

func ProvideForgeCycle(
	cfg *config.Config,
	reg *usecase.AgentRegistry,
	fetcher *agents.Fetcher,
	proc *usecase.FrameProcessor,
	m repository.Metrics,
	l *logger.Logger,
	frames repository.FrameCache,
	notifier repository.Notifier,
	bank *usecase.DetectorBank,
	hub *usecase.FrameHub,
) *usecase.ForgeCycle {
	opts := []usecase.CycleOption{
		usecase.WithFrameCache(frames),
		usecase.WithDetectorBank(bank),
		usecase.WithFrameHub(hub),
	}
	if notifier != nil {
		opts = append(opts, usecase.WithNotifier(notifier))
	}
	return usecase.NewForgeCycle(usecase.CycleConfig{
		LookbackWindow: cfg.Engine.LookbackWindow,
		EntropyBins:    cfg.Engine.EntropyBins,
		TransferLag:    cfg.Engine.TransferLag,
		Bidirectional:  cfg.Engine.Bidirectional,
		GraphWorkers:   cfg.Engine.GraphWorkers,
		CullBelow:      cfg.Engine.CullBelow,
		FetchTimeout:   cfg.Engine.FetchTimeout,
		LockTTL:        max(cfg.Engine.Interval, time.Minute),
	}, reg, fetcher, fitness.NewOptimizer(cfg.Engine.RewardLearningRate), proc, m, l, opts...)
}

// ProvideTickPipeline throttles live ticks at server.tick_rate per series.
func ProvideTickPipeline(bank *usecase.DetectorBank, m repository.Metrics, cfg *config.Config) *mid.TickPipeline {
	return mid.NewTickPipeline(bank, m,
		mid.WithMaxRPS(int(cfg.Server.TickRate)),
		mid.WithBufferSize(2000),
	)
}

func ProvideValidationRunner(m repository.Metrics, l *logger.Logger, cfg *config.Config) *usecase.ValidationRunner {
	v := cfg.Validation
	return usecase.NewValidationRunner(validation.Config{
		Ticks:          v.Ticks,
		Seed:           v.Seed,
		PreEventWindow: v.PreEventWindow,
		Permutations:   v.Permutations,
		OutputDir:      v.OutputDir,
		Config:         alpha.Config(cfg.Detector),
	}, m, l)
}

// ProvideKafkaConsumer creates the ticks consumer when kafka.consume_ticks is set.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.ConsumeTicks {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.RejectEmpty(), pkgkafka.TracingHook{}))
	return consumer, nil
}

// ProvideKafkaTicksHandler feeds the ticks topic through the pipeline.
func ProvideKafkaTicksHandler(pipeline *mid.TickPipeline, m repository.Metrics, cfg *config.Config) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.Topics.Ticks, pipeline, m)
}

// ProvideLimiter guards the manual tick and ingest routes.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(float64(cfg.Server.TickBurst), cfg.Server.TickRate)
}

func ProvideHandlers(
	l *logger.Logger,
	cycle *usecase.ForgeCycle,
	bank *usecase.DetectorBank,
	pipeline *mid.TickPipeline,
	runner *usecase.ValidationRunner,
	limiter *ratelimit.Limiter,
	fetcher *agents.Fetcher,
	hub *usecase.FrameHub,
) []xhttp.Handler {
	forge := api.NewForgeEchoHandler(l, cycle, bank, pipeline, runner, limiter)
	forge.SetBreakers(fetcher)
	return []xhttp.Handler{forge, api.NewFrameStreamHandler(l, cycle, hub)}
}

// ProvideApp creates the application server and hands it everything that
// needs closing.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	cycle *usecase.ForgeCycle,
	proc *usecase.FrameProcessor,
	bank *usecase.DetectorBank,
	hub *usecase.FrameHub,
	pipeline *mid.TickPipeline,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	ch *pkgch.Client,
	history repository.ObservationStore,
	producer *pkgkafka.Producer,
	pub repository.Publisher,
	q *queue.Queue,
	c cache.Service,
	handlers []xhttp.Handler,
) *server.App {
	opts := server.Options{CH: ch, History: history, Handlers: handlers}
	if consumer != nil {
		opts.Consumer = consumer
		opts.Ticks = kh
	}

	if producer != nil && cfg.Logging.Collect.Enabled {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collect.Interval,
			CountThreshold: cfg.Logging.Collect.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
			CollectWarn:    cfg.Logging.Collect.Warn,
		})
	}
	// the publisher owns the producer when frames are published
	if producer != nil && pub == nil {
		opts.Closers = append(opts.Closers, producer)
	}
	if q != nil {
		opts.Closers = append(opts.Closers, q)
	}
	if cl, ok := c.(io.Closer); ok {
		opts.Closers = append(opts.Closers, cl)
	}
	return server.New(cfg, l, cycle, proc, bank, hub, pipeline, opts)
}
