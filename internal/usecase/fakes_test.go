package usecase

import (
	"context"
	"sync"
	"time"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/services/alpha"
)

type metricsRecorder struct {
	mu      sync.Mutex
	cycles  []string
	alerts  []string
	rewards map[string]float64
	sent    []string
	errs    []string
	latency []string
}

func newMetrics() *metricsRecorder { return &metricsRecorder{rewards: map[string]float64{}} }

func (m *metricsRecorder) RecordCycle(status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, status)
}
func (m *metricsRecorder) RecordFetch(string, string) {}
func (m *metricsRecorder) RecordAlert(series string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, series)
}
func (m *metricsRecorder) RecordReward(agent string, reward, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[agent] = reward
}
func (m *metricsRecorder) RecordMessageSent(backend, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, backend+":"+kind)
}
func (m *metricsRecorder) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, kind)
}
func (m *metricsRecorder) RecordLatency(op string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = append(m.latency, op)
}

func (m *metricsRecorder) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errs...)
}

// scriptFetcher returns one scripted value per agent per call.
type scriptFetcher struct {
	mu     sync.Mutex
	values map[string][]float64
	fail   map[string]bool
	stale  map[string]bool
	calls  int

	// when set, FetchAll signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (f *scriptFetcher) Fetch(_ context.Context, spec models.AgentSpec) models.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next(spec)
}

func (f *scriptFetcher) next(spec models.AgentSpec) models.Observation {
	if f.fail[spec.Name] {
		return models.ObservationFailed(spec, "all sources failed")
	}
	vals := f.values[spec.Name]
	v := 0.0
	if len(vals) > 0 {
		v = vals[f.calls%len(vals)]
	}
	o := models.ObservedValue(spec, "test", v, 20*time.Millisecond)
	o.Uptime = 1
	o.Stale = f.stale[spec.Name]
	return o
}

func (f *scriptFetcher) FetchAll(_ context.Context, specs []models.AgentSpec) []models.Observation {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Observation, 0, len(specs))
	for _, s := range specs {
		out = append(out, f.next(s))
	}
	f.calls++
	return out
}

type memPublisher struct {
	mu     sync.Mutex
	frames []*models.Frame
	alerts []*models.Alert
	err    error
}

func (p *memPublisher) PublishFrame(_ context.Context, f *models.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, f)
	return nil
}

func (p *memPublisher) PublishAlert(_ context.Context, a *models.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, a)
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memStorage struct {
	mu     sync.Mutex
	obs    []models.Observation
	frames []*models.Frame
	alerts []*models.Alert
	err    error
}

func (s *memStorage) Init(context.Context) error { return nil }
func (s *memStorage) StoreObservations(_ context.Context, obs []models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.obs = append(s.obs, obs...)
	return nil
}
func (s *memStorage) StoreFrame(_ context.Context, f *models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}
func (s *memStorage) StoreAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}
func (s *memStorage) Health(context.Context) error { return nil }
func (s *memStorage) Close() error                 { return nil }

type memNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *memNotifier) Notify(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

type memFrameCache struct {
	mu     sync.Mutex
	latest *models.Frame
	locked bool
}

func (c *memFrameCache) SaveFrame(_ context.Context, f *models.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = f
	return nil
}
func (c *memFrameCache) LatestFrame(context.Context) (*models.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, nil
}
func (c *memFrameCache) TryLockCycle(context.Context, time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false, nil
	}
	c.locked = true
	return true, nil
}
func (c *memFrameCache) UnlockCycle(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
	return nil
}

type kindSet map[string]bool

func (k kindSet) Has(kind string) bool { return k[kind] }

// firingGate fires on every value above the threshold.
type firingGate struct {
	above float64
	ticks int64
}

func (g *firingGate) ProcessPrice(v float64) alpha.Decision {
	g.ticks++
	return alpha.Decision{Alpha: v, Theta: g.above, Fired: v > g.above}
}

func (g *firingGate) Snapshot() alpha.Snapshot { return alpha.Snapshot{Ticks: g.ticks} }

type panicGate struct{}

func (panicGate) ProcessPrice(float64) alpha.Decision { panic("boom") }
func (panicGate) Snapshot() alpha.Snapshot            { return alpha.Snapshot{} }

func spec(name, domain, market string) models.AgentSpec {
	return models.AgentSpec{
		Name: name, Domain: domain, Market: market, Weight: 1,
		Sources: []models.SourceSpec{{Kind: "kraken", URL: "https://example.test/" + name}},
	}
}
