package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"TPMForge/internal/domain/models"
	drepo "TPMForge/internal/domain/repository"
	"TPMForge/internal/services/alpha"
	"TPMForge/pkg/logger"
)

var (
	ErrBankClosed  = errors.New("detector bank closed")
	ErrInvalidTick = errors.New("invalid tick")
)

// AlertSink receives every alert the bank raises.
type AlertSink interface {
	ProcessAlert(ctx context.Context, a *models.Alert) error
}

// Gate is the per-series detector contract.
type Gate interface {
	ProcessPrice(price float64) alpha.Decision
	Snapshot() alpha.Snapshot
}

type seriesGate struct {
	mu   sync.Mutex
	gate Gate
}

// DetectorBank runs one detector per series. Series are independent: a panic
// while scoring one is logged and that tick is dropped.
type DetectorBank struct {
	newGate func() Gate
	sink    AlertSink
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu     sync.RWMutex
	series map[string]*seriesGate
	closed atomic.Bool
}

type BankOption func(*DetectorBank)

// WithGateFactory replaces the detector constructor.
func WithGateFactory(fn func() Gate) BankOption {
	return func(b *DetectorBank) { b.newGate = fn }
}

func WithBankClock(now func() time.Time) BankOption {
	return func(b *DetectorBank) { b.now = now }
}

// NewDetectorBank creates a bank whose detectors all use cfg. sink may be nil.
func NewDetectorBank(cfg alpha.Config, sink AlertSink, metrics drepo.Metrics, log *logger.Logger, opts ...BankOption) *DetectorBank {
	if log == nil {
		log = logger.Nop()
	}
	b := &DetectorBank{
		newGate: func() Gate { return alpha.NewDetector(cfg) },
		sink:    sink,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		series:  make(map[string]*seriesGate),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *DetectorBank) gate(series string) *seriesGate {
	b.mu.RLock()
	sg, ok := b.series[series]
	b.mu.RUnlock()
	if ok {
		return sg
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sg, ok = b.series[series]; !ok {
		sg = &seriesGate{gate: b.newGate()}
		b.series[series] = sg
	}
	return sg
}

// Observe feeds one tick to its series' detector and returns the alert it
// raised, if any. Delivery failures are logged, not returned: the tick has
// already been consumed.
func (b *DetectorBank) Observe(ctx context.Context, t *models.Tick) (*models.Alert, error) {
	if b.closed.Load() {
		return nil, ErrBankClosed
	}
	if t == nil || t.Series == "" || math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
		return nil, ErrInvalidTick
	}

	sg := b.gate(t.Series)
	sg.mu.Lock()
	dec, err := score(sg.gate, t.Value)
	index := t.Index
	if index <= 0 && err == nil {
		index = sg.gate.Snapshot().Ticks
	}
	sg.mu.Unlock()

	if err != nil {
		b.metrics.RecordError("detector_panic")
		b.log.Error("detector bank: scoring failed",
			logger.String("series", t.Series),
			logger.Error(err),
		)
		return nil, nil
	}
	if !dec.Fired {
		return nil, nil
	}

	at := t.At
	if at.IsZero() {
		at = b.now().UTC()
	}
	a := &models.Alert{Series: t.Series, Index: index, Alpha: dec.Alpha, Theta: dec.Theta, At: at}
	b.metrics.RecordAlert(t.Series)
	b.log.Info("detector bank: alert",
		logger.String("series", a.Series),
		logger.Int64("index", a.Index),
		logger.Float64("alpha", a.Alpha),
		logger.Float64("theta", a.Theta),
	)

	if b.sink != nil {
		if err := b.sink.ProcessAlert(ctx, a); err != nil {
			b.log.Warn("detector bank: alert delivery failed",
				logger.String("series", a.Series),
				logger.Error(err),
			)
		}
	}
	return a, nil
}

// Process satisfies the tick pipeline's downstream contract.
func (b *DetectorBank) Process(ctx context.Context, t *models.Tick) error {
	_, err := b.Observe(ctx, t)
	return err
}

func score(g Gate, v float64) (dec alpha.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return g.ProcessPrice(v), nil
}

// SeriesSnapshot pairs a series name with its detector state.
type SeriesSnapshot struct {
	Series string `json:"series"`
	alpha.Snapshot
}

// Snapshots lists every series' detector state, sorted by series.
func (b *DetectorBank) Snapshots() []SeriesSnapshot {
	b.mu.RLock()
	names := make([]string, 0, len(b.series))
	gates := make(map[string]*seriesGate, len(b.series))
	for name, sg := range b.series {
		names = append(names, name)
		gates[name] = sg
	}
	b.mu.RUnlock()
	sort.Strings(names)

	out := make([]SeriesSnapshot, 0, len(names))
	for _, name := range names {
		sg := gates[name]
		sg.mu.Lock()
		out = append(out, SeriesSnapshot{Series: name, Snapshot: sg.gate.Snapshot()})
		sg.mu.Unlock()
	}
	return out
}

func (b *DetectorBank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.series)
}

// Close makes later ticks fail with ErrBankClosed.
func (b *DetectorBank) Close() { b.closed.Store(true) }
