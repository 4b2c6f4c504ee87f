package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/domain/repository"
	"TPMForge/pkg/cache"
	xhttp "TPMForge/pkg/http"
	"TPMForge/pkg/logger"
)

// Fetch outcomes as reported to metrics.
const (
	OutcomeOK     = "ok"
	OutcomeStale  = "stale"
	OutcomeFailed = "failed"
)

const lastGoodPrefix = "agent:last"

type lastGood struct {
	Value  float64   `json:"value"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

type uptime struct {
	attempts  int64
	successes int64
}

// Fetcher polls agents. Each agent's sources are tried in order behind their
// own circuit breaker; when all fail the last good value is reused and
// marked stale.
type Fetcher struct {
	client   *xhttp.Client
	registry *Registry
	lastGood cache.Service
	log      *logger.Logger
	metrics  repository.Metrics

	staleTTL    time.Duration
	tripAfter   uint32
	openTimeout time.Duration
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	uptime   map[string]*uptime
}

type FetcherOption func(*Fetcher)

func WithFetcherLogger(l *logger.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = l }
}

func WithFetcherMetrics(m repository.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLastGood sets where last good readings are kept.
func WithLastGood(c cache.Service) FetcherOption {
	return func(f *Fetcher) { f.lastGood = c }
}

// WithStaleTTL bounds how old a reused reading may be.
func WithStaleTTL(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.staleTTL = d }
}

// WithBreaker opens a source after n consecutive failures for timeout.
func WithBreaker(n uint32, timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.tripAfter = n
		f.openTimeout = timeout
	}
}

func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) { f.concurrency = n }
}

func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a fetcher. A nil registry means the built-in kinds.
func NewFetcher(client *xhttp.Client, registry *Registry, opts ...FetcherOption) *Fetcher {
	if registry == nil {
		registry = NewRegistry()
	}
	f := &Fetcher{
		client:      client,
		registry:    registry,
		log:         logger.Nop(),
		staleTTL:    15 * time.Minute,
		tripAfter:   3,
		openTimeout: 30 * time.Second,
		concurrency: 8,
		now:         time.Now,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		uptime:      make(map[string]*uptime),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.lastGood == nil {
		f.lastGood = cache.NewMemoryCache(cache.WithMemoryMaxSize(4096))
	}
	return f
}

// Registry exposes the parser registry.
func (f *Fetcher) Registry() *Registry { return f.registry }

// Fetch polls one agent.
func (f *Fetcher) Fetch(ctx context.Context, spec models.AgentSpec) models.Observation {
	var reasons []string
	for i, src := range spec.Sources {
		start := f.now()
		v, err := f.fetchSource(ctx, spec.Name, i, src)
		if err == nil {
			obs := models.ObservedValue(spec, src.Kind, v, f.now().Sub(start))
			obs.Uptime = f.recordAttempt(spec.Name, true)
			f.remember(ctx, spec.Name, lastGood{Value: v, Source: src.Kind, At: f.now()})
			f.record(spec.Name, OutcomeOK)
			return obs
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", src.Kind, err))
		f.log.Debug("source failed",
			logger.String("agent", spec.Name),
			logger.String("source", src.Kind),
			logger.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if len(spec.Sources) == 0 {
		reasons = append(reasons, "no sources configured")
	}

	up := f.recordAttempt(spec.Name, false)
	if lg, ok := f.recall(ctx, spec.Name); ok {
		obs := models.ObservedValue(spec, lg.Source, lg.Value, 0)
		obs.Stale = true
		obs.Freshness = f.now().Sub(lg.At)
		obs.Uptime = up
		f.record(spec.Name, OutcomeStale)
		f.log.Warn("all sources failed, reusing last good value",
			logger.String("agent", spec.Name),
			logger.Duration("age", obs.Freshness),
		)
		return obs
	}

	obs := models.ObservationFailed(spec, strings.Join(reasons, "; "))
	obs.Uptime = up
	f.record(spec.Name, OutcomeFailed)
	return obs
}

// FetchAll polls every agent concurrently. Results keep the order of specs.
func (f *Fetcher) FetchAll(ctx context.Context, specs []models.AgentSpec) []models.Observation {
	out := make([]models.Observation, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, f.concurrency))
	for i := range specs {
		g.Go(func() error {
			out[i] = f.Fetch(gctx, specs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// BreakerStates reports the state of every breaker created so far.
func (f *Fetcher) BreakerStates() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.breakers))
	for name, cb := range f.breakers {
		out[name] = cb.State().String()
	}
	return out
}

func (f *Fetcher) fetchSource(ctx context.Context, agent string, idx int, src models.SourceSpec) (float64, error) {
	if !f.registry.Has(src.Kind) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, src.Kind)
	}
	cb := f.breaker(fmt.Sprintf("%s#%d:%s", agent, idx, src.Kind))

	res, err := cb.Execute(func() (interface{}, error) {
		var body []byte
		err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodGet,
			URL:    src.URL,
		}, &body)
		if err != nil {
			return nil, err
		}
		return f.registry.Parse(src.Kind, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("breaker %s: %w", cb.Name(), err)
		}
		return 0, err
	}
	return res.(float64), nil
}

func (f *Fetcher) breaker(name string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[name]; ok {
		return cb
	}
	tripAfter := f.tripAfter
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     f.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.log.Info("source breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	f.breakers[name] = cb
	return cb
}

func (f *Fetcher) recordAttempt(agent string, ok bool) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, exists := f.uptime[agent]
	if !exists {
		u = &uptime{}
		f.uptime[agent] = u
	}
	u.attempts++
	if ok {
		u.successes++
	}
	return float64(u.successes) / float64(u.attempts)
}

func (f *Fetcher) remember(ctx context.Context, agent string, lg lastGood) {
	key := cache.Key(lastGoodPrefix, agent)
	if err := f.lastGood.Set(ctx, key, lg, f.staleTTL); err != nil {
		f.log.Warn("cache last good value", logger.String("agent", agent), logger.Error(err))
	}
}

func (f *Fetcher) recall(ctx context.Context, agent string) (lastGood, bool) {
	var lg lastGood
	if err := f.lastGood.Get(ctx, cache.Key(lastGoodPrefix, agent), &lg); err != nil {
		return lastGood{}, false
	}
	if f.now().Sub(lg.At) > f.staleTTL {
		return lastGood{}, false
	}
	return lg, true
}

func (f *Fetcher) record(agent, outcome string) {
	if f.metrics != nil {
		f.metrics.RecordFetch(agent, outcome)
	}
}
