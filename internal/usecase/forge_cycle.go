package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"TPMForge/internal/domain/models"
	drepo "TPMForge/internal/domain/repository"
	"TPMForge/internal/services/entropy"
	"TPMForge/internal/services/fitness"
	"TPMForge/internal/services/notify"
	"TPMForge/internal/services/rolling"
	"TPMForge/pkg/logger"
)

// ErrCycleBusy means another runner holds the cycle lock.
var ErrCycleBusy = errors.New("forge cycle already running")

// CycleConfig tunes one forge cycle.
type CycleConfig struct {
	LookbackWindow int
	EntropyBins    int
	TransferLag    int
	Bidirectional  bool
	GraphWorkers   int
	CullBelow      float64
	FetchTimeout   time.Duration
	LockTTL        time.Duration
}

// ForgeCycle polls every agent, scores the fleet and emits a frame.
type ForgeCycle struct {
	cfg       CycleConfig
	agents    *AgentRegistry
	fetcher   drepo.Fetcher
	engine    entropy.Engine
	optimizer *fitness.Optimizer
	proc      *FrameProcessor
	metrics   drepo.Metrics
	log       *logger.Logger

	frames   drepo.FrameCache
	notifier drepo.Notifier
	bank     *DetectorBank
	hub      *FrameHub

	now   func() time.Time
	newID func() string

	mu       sync.Mutex // one Tick at a time
	series   map[string]*rolling.Window
	failures map[string]int
	latest   atomic.Pointer[models.Frame]
}

type CycleOption func(*ForgeCycle)

// WithFrameCache shares frames and the cycle lock through a cache.
func WithFrameCache(fc drepo.FrameCache) CycleOption {
	return func(c *ForgeCycle) { c.frames = fc }
}

// WithNotifier sends the low-reward warning when the cull list is non-empty.
func WithNotifier(n drepo.Notifier) CycleOption {
	return func(c *ForgeCycle) { c.notifier = n }
}

// WithDetectorBank feeds each delivered value to that agent's live detector.
func WithDetectorBank(b *DetectorBank) CycleOption {
	return func(c *ForgeCycle) { c.bank = b }
}

// WithFrameHub broadcasts every new frame.
func WithFrameHub(h *FrameHub) CycleOption {
	return func(c *ForgeCycle) { c.hub = h }
}

func WithCycleClock(now func() time.Time) CycleOption {
	return func(c *ForgeCycle) { c.now = now }
}

func WithCycleIDs(fn func() string) CycleOption {
	return func(c *ForgeCycle) { c.newID = fn }
}

func NewForgeCycle(
	cfg CycleConfig,
	agents *AgentRegistry,
	fetcher drepo.Fetcher,
	optimizer *fitness.Optimizer,
	proc *FrameProcessor,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...CycleOption,
) *ForgeCycle {
	if cfg.LookbackWindow < 2 {
		cfg.LookbackWindow = 2
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &ForgeCycle{
		cfg:       cfg,
		agents:    agents,
		fetcher:   fetcher,
		engine:    entropy.NewEngine(cfg.EntropyBins, cfg.TransferLag),
		optimizer: optimizer,
		proc:      proc,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		series:    make(map[string]*rolling.Window),
		failures:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ForgeCycle) window(name string) *rolling.Window {
	w, ok := c.series[name]
	if !ok {
		w = rolling.NewWindow(c.cfg.LookbackWindow)
		c.series[name] = w
	}
	return w
}

// WarmStart preloads lookback windows from stored history.
func (c *ForgeCycle) WarmStart(ctx context.Context, store drepo.ObservationStore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, spec := range c.agents.List() {
		vals, err := store.RecentValues(ctx, spec.Name, c.cfg.LookbackWindow)
		if err != nil {
			return fmt.Errorf("warm start: %w", err)
		}
		w := c.window(spec.Name)
		for _, v := range vals {
			w.Push(v)
		}
		c.log.Debug("forge cycle: warm start", logger.String("agent", spec.Name), logger.Int("values", len(vals)))
	}
	return nil
}

// Tick runs one full cycle and returns the new frame.
func (c *ForgeCycle) Tick(ctx context.Context) (*models.Frame, error) {
	if !c.mu.TryLock() {
		c.metrics.RecordCycle("busy", 0)
		return c.latest.Load(), ErrCycleBusy
	}
	defer c.mu.Unlock()

	start := c.now()
	if c.frames != nil {
		ok, err := c.frames.TryLockCycle(ctx, c.cfg.LockTTL)
		switch {
		case err != nil:
			c.log.Warn("forge cycle: lock unavailable, running unguarded", logger.Error(err))
		case !ok:
			c.metrics.RecordCycle("busy", 0)
			return c.latest.Load(), ErrCycleBusy
		default:
			defer func() {
				if err := c.frames.UnlockCycle(context.WithoutCancel(ctx)); err != nil {
					c.log.Warn("forge cycle: unlock failed", logger.Error(err))
				}
			}()
		}
	}

	specs := c.agents.List()
	fctx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	obs := c.fetcher.FetchAll(fctx, specs)

	delivered := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		if !o.Ok() {
			c.failures[o.Agent]++
			continue
		}
		// stale readings are scored but never enter the history twice
		if !o.Stale {
			c.window(o.Agent).Push(o.Value)
			c.failures[o.Agent] = 0
		}
		delivered = append(delivered, o)
	}

	series := make(map[string][]float64, len(specs))
	for _, spec := range specs {
		if w, ok := c.series[spec.Name]; ok {
			series[spec.Name] = w.Values()
		}
	}
	graph, err := c.engine.Graph(ctx, series, entropy.GraphOptions{
		Bidirectional: c.cfg.Bidirectional,
		Workers:       c.cfg.GraphWorkers,
	})
	if err != nil {
		c.metrics.RecordCycle("error", c.now().Sub(start).Seconds())
		return nil, fmt.Errorf("forge cycle: %w", err)
	}
	power := fitness.PredictivePower(graph)

	signals := make([]models.AgentScore, 0, len(delivered))
	for _, o := range delivered {
		fit := fitness.Score(fitness.Inputs{
			SuccessRate:       1.0,
			LatencyMS:         float64(o.Latency) / float64(time.Millisecond),
			FreshnessS:        o.Freshness.Seconds(),
			Uptime:            o.Uptime,
			PredictivePower:   power,
			RedundancyPenalty: float64(fitness.Redundancy(graph, o.Agent, fitness.RedundancyThreshold)),
		})
		reward := c.optimizer.UpdateReward(o.Agent, fit)
		c.metrics.RecordReward(o.Agent, reward, fit)
		signals = append(signals, models.AgentScore{
			Agent:   o.Agent,
			Domain:  o.Domain,
			Market:  o.Market,
			Value:   o.Value,
			Fitness: fit,
			Reward:  reward,
			Stale:   o.Stale,
		})
	}

	cull := c.optimizer.CullCandidates(c.cfg.CullBelow)
	frame := &models.Frame{
		TS:             c.now().Unix(),
		CycleID:        c.newID(),
		Signals:        signals,
		DomainSummary:  DomainSummary(signals),
		Graph:          graph.Map(),
		CullCandidates: cull,
		Failures:       c.failureSnapshot(),
		AgentCount:     len(specs),
	}
	c.publish(ctx, frame, obs)

	if len(cull) > 0 && c.notifier != nil {
		if err := c.notifier.Notify(ctx, notify.CullWarning(cull)); err != nil {
			c.metrics.RecordError("notify")
			c.log.Warn("forge cycle: cull warning not delivered", logger.Error(err))
		}
	}

	if c.bank != nil {
		for _, o := range delivered {
			if o.Stale {
				continue
			}
			if _, err := c.bank.Observe(ctx, &models.Tick{Series: models.AgentSeries(o.Agent), Value: o.Value, At: o.At}); err != nil {
				c.log.Warn("forge cycle: detector feed failed", logger.String("agent", o.Agent), logger.Error(err))
			}
		}
	}

	elapsed := c.now().Sub(start)
	c.metrics.RecordCycle("ok", elapsed.Seconds())
	c.log.Info("forge cycle: frame",
		logger.String("cycle_id", frame.CycleID),
		logger.Int("signals", len(signals)),
		logger.Int("agents", len(specs)),
		logger.Int("edges", len(frame.Graph)),
		logger.Strings("cull", cull),
		logger.Duration("elapsed", elapsed),
	)
	return frame, nil
}

// publish makes frame the latest one and hands it to every sink. Sink
// failures are logged; the frame stands.
func (c *ForgeCycle) publish(ctx context.Context, frame *models.Frame, obs []models.Observation) {
	c.latest.Store(frame)
	if c.hub != nil {
		c.hub.Broadcast(frame)
	}
	if c.frames != nil {
		if err := c.frames.SaveFrame(ctx, frame); err != nil {
			c.metrics.RecordError("frame_cache")
			c.log.Warn("forge cycle: frame not cached", logger.Error(err))
		}
	}
	if c.proc != nil {
		if err := c.proc.ProcessFrame(ctx, frame, obs); err != nil {
			c.log.Error("forge cycle: frame not delivered",
				logger.String("cycle_id", frame.CycleID),
				logger.Error(err),
			)
		}
	}
}

// RecordFailure stores an error frame in place of a failed cycle.
func (c *ForgeCycle) RecordFailure(ctx context.Context, cause error) *models.Frame {
	frame := &models.Frame{
		TS:             c.now().Unix(),
		CycleID:        c.newID(),
		Signals:        []models.AgentScore{},
		DomainSummary:  map[string]models.DomainSummary{},
		Graph:          map[string]float64{},
		CullCandidates: []string{},
		AgentCount:     c.agents.Len(),
		Error:          cause.Error(),
	}
	c.metrics.RecordCycle("error", 0)
	c.publish(ctx, frame, nil)
	return frame
}

// Latest returns the newest frame: this process's own, else the shared
// cached one, else an empty frame.
func (c *ForgeCycle) Latest(ctx context.Context) *models.Frame {
	if f := c.latest.Load(); f != nil {
		return f
	}
	if c.frames != nil {
		f, err := c.frames.LatestFrame(ctx)
		if err != nil {
			c.log.Warn("forge cycle: cached frame unavailable", logger.Error(err))
		} else if f != nil {
			return f
		}
	}
	return &models.Frame{
		Signals:        []models.AgentScore{},
		DomainSummary:  map[string]models.DomainSummary{},
		Graph:          map[string]float64{},
		CullCandidates: []string{},
		AgentCount:     c.agents.Len(),
	}
}

// Agents exposes the registry the cycle polls.
func (c *ForgeCycle) Agents() *AgentRegistry { return c.agents }

func (c *ForgeCycle) failureSnapshot() map[string]int {
	out := make(map[string]int)
	for name, n := range c.failures {
		if n > 0 {
			out[name] = n
		}
	}
	return out
}

// DomainSummary groups scored rows by domain.
func DomainSummary(rows []models.AgentScore) map[string]models.DomainSummary {
	out := make(map[string]models.DomainSummary)
	for _, r := range rows {
		s := out[r.Domain]
		s.Count++
		s.AvgFitness += r.Fitness
		s.Markets = append(s.Markets, r.Market)
		out[r.Domain] = s
	}
	for domain, s := range out {
		s.AvgFitness /= float64(max(1, s.Count))
		s.Template = domain + "+future"
		out[domain] = s
	}
	return out
}
