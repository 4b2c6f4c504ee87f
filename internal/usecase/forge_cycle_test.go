package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/services/alpha"
	"TPMForge/internal/services/fitness"
	"TPMForge/pkg/logger"
)

type cycleRig struct {
	cycle   *ForgeCycle
	fetcher *scriptFetcher
	metrics *metricsRecorder
	pub     *memPublisher
	store   *memStorage
	hub     *FrameHub
}

func newCycleRig(t *testing.T, cfg CycleConfig, opts ...CycleOption) *cycleRig {
	t.Helper()
	reg, err := NewAgentRegistry(kindSet{"kraken": true}, []models.AgentSpec{
		spec("btc", "finance", "btc_usd"),
		spec("eth", "finance", "eth_usd"),
		spec("temp", "weather", "berlin"),
	})
	require.NoError(t, err)

	rig := &cycleRig{
		fetcher: &scriptFetcher{
			values: map[string][]float64{
				"btc":  {100, 101, 103, 102, 105},
				"eth":  {10, 10.2, 10.1, 10.4, 10.3},
				"temp": {12, 13, 12.5, 11, 14},
			},
			fail:  map[string]bool{},
			stale: map[string]bool{},
		},
		metrics: newMetrics(),
		pub:     &memPublisher{},
		store:   &memStorage{},
		hub:     NewFrameHub(4),
	}
	proc, err := NewFrameProcessor(rig.pub, rig.store, rig.metrics, BackendBoth)
	require.NoError(t, err)

	n := 0
	opts = append([]CycleOption{
		WithFrameHub(rig.hub),
		WithCycleClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithCycleIDs(func() string { n++; return "cycle-" + strconv.Itoa(n) }),
	}, opts...)
	rig.cycle = NewForgeCycle(cfg, reg, rig.fetcher, fitness.NewOptimizer(0.08), proc, rig.metrics, logger.Nop(), opts...)
	return rig
}

func defaultCycleConfig() CycleConfig {
	return CycleConfig{LookbackWindow: 50, EntropyBins: 4, TransferLag: 1, CullBelow: 0.35, FetchTimeout: time.Second}
}

func TestForgeCycle_TickBuildsFrame(t *testing.T) {
	rig := newCycleRig(t, defaultCycleConfig())
	frames, cancel := rig.hub.Subscribe()
	defer cancel()

	f, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), f.TS)
	assert.Equal(t, "cycle-1", f.CycleID)
	assert.Equal(t, 3, f.AgentCount)
	require.Len(t, f.Signals, 3)
	for _, s := range f.Signals {
		assert.InDelta(t, fitness.InitialReward+0.08*(s.Fitness-fitness.InitialReward), s.Reward, 1e-12)
	}

	// one canonical edge per sorted pair
	assert.Len(t, f.Graph, 3)
	assert.Contains(t, f.Graph, "btc->eth")
	assert.Contains(t, f.Graph, "eth->temp")

	require.Contains(t, f.DomainSummary, "finance")
	assert.Equal(t, 2, f.DomainSummary["finance"].Count)
	assert.Equal(t, "finance+future", f.DomainSummary["finance"].Template)
	assert.ElementsMatch(t, []string{"btc_usd", "eth_usd"}, f.DomainSummary["finance"].Markets)
	assert.Equal(t, "weather+future", f.DomainSummary["weather"].Template)

	assert.Same(t, f, <-frames)
	assert.Same(t, f, rig.cycle.Latest(context.Background()))
	assert.Len(t, rig.pub.frames, 1)
	assert.Len(t, rig.store.frames, 1)
	assert.Len(t, rig.store.obs, 3)
	assert.Equal(t, []string{"ok"}, rig.metrics.cycles)
	assert.Len(t, rig.metrics.rewards, 3)
}

func TestForgeCycle_FailedAgentCountsFailures(t *testing.T) {
	rig := newCycleRig(t, defaultCycleConfig())
	f, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)

	rig.fetcher.fail["temp"] = true
	for range 3 {
		f, err = rig.cycle.Tick(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, f.Signals, 2)
	assert.Equal(t, map[string]int{"temp": 3}, f.Failures)
	assert.Len(t, f.Graph, 3, "failed agents keep their history in the graph")

	rig.fetcher.fail["temp"] = false
	f, err = rig.cycle.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.Failures)
}

func TestForgeCycle_StaleValuesScoredNotStored(t *testing.T) {
	rig := newCycleRig(t, defaultCycleConfig())
	rig.fetcher.stale["btc"] = true

	f, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)

	var row models.AgentScore
	for _, s := range f.Signals {
		if s.Agent == "btc" {
			row = s
		}
	}
	assert.True(t, row.Stale)
	assert.Nil(t, rig.cycle.series["btc"], "stale values never enter the lookback")
	assert.Len(t, f.Graph, 1)
}

func TestForgeCycle_CullWarningSent(t *testing.T) {
	n := &memNotifier{}
	cfg := defaultCycleConfig()
	cfg.CullBelow = 2 // every reward is below 2
	rig := newCycleRig(t, cfg, WithNotifier(n))

	f, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"btc", "eth", "temp"}, f.CullCandidates)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "btc,eth,temp")
}

func TestForgeCycle_BusyLock(t *testing.T) {
	cache := &memFrameCache{locked: true}
	rig := newCycleRig(t, defaultCycleConfig(), WithFrameCache(cache))

	_, err := rig.cycle.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCycleBusy)
	assert.Equal(t, []string{"busy"}, rig.metrics.cycles)

	cache.locked = false
	f, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, cache.locked, "lock released after the cycle")
	assert.Same(t, f, cache.latest)
}

func TestForgeCycle_ConcurrentTickIsBusy(t *testing.T) {
	rig := newCycleRig(t, defaultCycleConfig())
	rig.fetcher.entered = make(chan struct{})
	rig.fetcher.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := rig.cycle.Tick(context.Background())
		done <- err
	}()
	<-rig.fetcher.entered

	_, err := rig.cycle.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCycleBusy)

	close(rig.fetcher.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never finished")
	}
	assert.Equal(t, []string{"busy", "ok"}, rig.metrics.cycles)
}

func TestForgeCycle_LatestFallsBackToCache(t *testing.T) {
	cached := &models.Frame{CycleID: "from-cache"}
	rig := newCycleRig(t, defaultCycleConfig(), WithFrameCache(&memFrameCache{latest: cached}))
	assert.Same(t, cached, rig.cycle.Latest(context.Background()))

	empty := newCycleRig(t, defaultCycleConfig()).cycle.Latest(context.Background())
	assert.Empty(t, empty.Signals)
	assert.NotNil(t, empty.Graph)
	assert.Equal(t, 3, empty.AgentCount)
}

func TestForgeCycle_DeliveryFailureKeepsFrame(t *testing.T) {
	rig := newCycleRig(t, defaultCycleConfig())
	rig.pub.err = errors.New("broker down")

	f, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)
	assert.Same(t, f, rig.cycle.Latest(context.Background()))
	assert.Contains(t, rig.metrics.errors(), "process_frame")
}

func TestForgeCycle_RecordFailure(t *testing.T) {
	rig := newCycleRig(t, defaultCycleConfig())
	f := rig.cycle.RecordFailure(context.Background(), errors.New("upstream exploded"))

	assert.Equal(t, "upstream exploded", f.Error)
	assert.Empty(t, f.Signals)
	assert.Same(t, f, rig.cycle.Latest(context.Background()))
	assert.Equal(t, []string{"error"}, rig.metrics.cycles)
}

func TestForgeCycle_FeedsDetectorBank(t *testing.T) {
	m := newMetrics()
	bank := NewDetectorBank(alpha.DefaultConfig(), nil, m, logger.Nop(),
		WithGateFactory(func() Gate { return &firingGate{above: 50} }))
	rig := newCycleRig(t, defaultCycleConfig(), WithDetectorBank(bank))

	_, err := rig.cycle.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, bank.Len())
	assert.Equal(t, []string{"agent:btc"}, m.alerts)
}

type memHistory map[string][]float64

func (h memHistory) RecentValues(_ context.Context, agent string, limit int) ([]float64, error) {
	v := h[agent]
	if len(v) > limit {
		v = v[len(v)-limit:]
	}
	return v, nil
}

func TestForgeCycle_WarmStart(t *testing.T) {
	cfg := defaultCycleConfig()
	cfg.LookbackWindow = 3
	rig := newCycleRig(t, cfg)

	require.NoError(t, rig.cycle.WarmStart(context.Background(), memHistory{"btc": {1, 2, 3, 4}}))
	assert.Equal(t, []float64{2, 3, 4}, rig.cycle.series["btc"].Values())
	assert.Equal(t, 0, rig.cycle.series["eth"].Len())
}

func TestDomainSummary(t *testing.T) {
	got := DomainSummary([]models.AgentScore{
		{Domain: "finance", Market: "a", Fitness: 0.2},
		{Domain: "finance", Market: "b", Fitness: 0.6},
	})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.4, got["finance"].AvgFitness, 1e-12)
	assert.Equal(t, []string{"a", "b"}, got["finance"].Markets)
}
