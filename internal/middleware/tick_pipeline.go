package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"TPMForge/internal/domain/models"
	domrepo "TPMForge/internal/domain/repository"
)

var (
	ErrTickNil      = errors.New("tick nil")
	ErrSeriesEmpty  = errors.New("series empty")
	ErrValueInvalid = errors.New("value not finite")
	ErrSeriesAgent  = errors.New("series name reserved for agents")
)

const (
	retryBackoffMin = 50 * time.Millisecond
	retryBackoffMax = 2 * time.Second
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickPipeline sits between ingest (HTTP, Kafka) and the detector bank.
// It validates, throttles per series, and buffers when downstream fails.
// Retried ticks are replayed after newer ticks of the same series that went
// through directly, so a detector may see a buffered value out of order.
type TickPipeline struct {
	next      Proc
	metrics   domrepo.Metrics
	perSecond int
	retry     chan *models.Tick
	transform func(*models.Tick) *models.Tick
	now       func() time.Time
	wait      func(context.Context, time.Duration) bool

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type PipelineOption func(*pipelineSettings)

type pipelineSettings struct {
	perSecond int
	buffer    int
	transform func(*models.Tick) *models.Tick
	now       func() time.Time
}

// WithMaxRPS sets the max ticks per second per series. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(s *pipelineSettings) {
		if n >= 0 {
			s.perSecond = n
		}
	}
}

// WithBufferSize sets the retry buffer used while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(s *pipelineSettings) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithTransform rewrites ticks before they are throttled.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(s *pipelineSettings) { s.transform = fn }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(s *pipelineSettings) { s.now = now }
}

func NewTickPipeline(next Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	s := pipelineSettings{perSecond: 20, buffer: 1000, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &TickPipeline{
		next:      next,
		metrics:   metrics,
		perSecond: s.perSecond,
		retry:     make(chan *models.Tick, s.buffer),
		transform: s.transform,
		now:       s.now,
		wait:      waitFor,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Start launches the retry loop for buffered ticks. Calling it while the
// loop runs is a no-op.
func (p *TickPipeline) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.drain(ctx, p.done)
}

// Stop ends the retry loop and waits for it. Ticks still buffered stay
// buffered until the next Start.
func (p *TickPipeline) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Buffered is the number of ticks waiting for retry.
func (p *TickPipeline) Buffered() int { return len(p.retry) }

// Process validates, throttles and forwards t. A downstream failure buffers
// the tick for retry and is still reported to the caller.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	start := p.now()
	if err := checkTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		if t = p.transform(t); checkTick(t) != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return checkTick(t)
		}
	}
	if !p.admit(t.Series, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	err := p.next.Process(ctx, t)
	if err == nil {
		p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
		return nil
	}
	p.metrics.RecordError("pipeline_process")
	if !p.requeue(t) {
		p.metrics.RecordError("pipeline_buffer_full")
	} else {
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.retry)))
	}
	return fmt.Errorf("pipeline downstream: %w", err)
}

func (p *TickPipeline) drain(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := retryBackoffMin
	for {
		var t *models.Tick
		select {
		case <-ctx.Done():
			return
		case t = <-p.retry:
		}
		if err := p.next.Process(ctx, t); err == nil {
			delay = retryBackoffMin
			continue
		}
		p.metrics.RecordError("pipeline_flush")
		delay = min(delay*2, retryBackoffMax)
		if !p.requeue(t) {
			p.metrics.RecordError("pipeline_buffer_drop")
		}
		if !p.wait(ctx, delay) {
			return
		}
	}
}

func (p *TickPipeline) requeue(t *models.Tick) bool {
	select {
	case p.retry <- t:
		return true
	default:
		return false
	}
}

// admit applies a per-series token bucket with a burst of one.
func (p *TickPipeline) admit(series string, at time.Time) bool {
	if p.perSecond <= 0 {
		return true
	}
	p.limMu.Lock()
	lim, ok := p.limiters[series]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.perSecond), 1)
		p.limiters[series] = lim
	}
	p.limMu.Unlock()
	return lim.AllowN(at, 1)
}

func checkTick(t *models.Tick) error {
	switch {
	case t == nil:
		return ErrTickNil
	case t.Series == "":
		return ErrSeriesEmpty
	case models.IsAgentSeries(t.Series):
		return ErrSeriesAgent
	case math.IsNaN(t.Value) || math.IsInf(t.Value, 0):
		return ErrValueInvalid
	}
	return nil
}

func waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
