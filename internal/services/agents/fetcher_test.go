package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
	xhttp "TPMForge/pkg/http"
)

type fetchMetrics struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (m *fetchMetrics) RecordFetch(agent, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string][]string{}
	}
	m.outcomes[agent] = append(m.outcomes[agent], outcome)
}
func (m *fetchMetrics) RecordCycle(string, float64) {}
func (m *fetchMetrics) RecordAlert(string) {}
func (m *fetchMetrics) RecordReward(string, float64, float64) {}
func (m *fetchMetrics) RecordMessageSent(string, string) {}
func (m *fetchMetrics) RecordError(string) {}
func (m *fetchMetrics) RecordLatency(string, float64) {}

func jsonServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(opts ...FetcherOption) *Fetcher {
	return NewFetcher(xhttp.NewClient(xhttp.WithTimeout(2*time.Second)), nil, opts...)
}

func TestFetchFallsBackToNextSource(t *testing.T) {
	down := jsonServer(t, http.StatusBadGateway, "bad gateway", nil)
	up := jsonServer(t, http.StatusOK, `{"symbol":"BTCUSDT","price":"64000.5"}`, nil)

	m := &fetchMetrics{}
	f := newTestFetcher(WithFetcherMetrics(m))
	spec := models.AgentSpec{
		Name: "btc", Domain: "finance", Market: "BTCUSD",
		Sources: []models.SourceSpec{
			{Kind: KindKraken, URL: down.URL},
			{Kind: KindBinance, URL: up.URL},
		},
	}

	obs := f.Fetch(context.Background(), spec)
	require.True(t, obs.Ok(), obs.Err)
	assert.Equal(t, 64000.5, obs.Value)
	assert.Equal(t, KindBinance, obs.Source)
	assert.False(t, obs.Stale)
	assert.Equal(t, 1.0, obs.Uptime)
	assert.Equal(t, []string{OutcomeOK}, m.outcomes["btc"])
}

func TestFetchFailsWithReasons(t *testing.T) {
	down := jsonServer(t, http.StatusInternalServerError, "oops", nil)
	garbage := jsonServer(t, http.StatusOK, `{"price":null}`, nil)

	f := newTestFetcher()
	spec := models.AgentSpec{
		Name: "btc", Domain: "finance", Market: "BTCUSD",
		Sources: []models.SourceSpec{
			{Kind: KindKraken, URL: down.URL},
			{Kind: KindBinance, URL: garbage.URL},
		},
	}

	obs := f.Fetch(context.Background(), spec)
	assert.False(t, obs.Ok())
	assert.Contains(t, obs.Err, "kraken:")
	assert.Contains(t, obs.Err, "binance:")
	assert.Equal(t, 0.0, obs.Uptime)
}

func TestFetchReusesLastGoodValueAsStale(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":18.5}}`))
	}))
	defer srv.Close()

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	m := &fetchMetrics{}
	f := newTestFetcher(WithClock(clock), WithFetcherMetrics(m))
	spec := models.AgentSpec{
		Name: "berlin", Domain: "weather", Market: "temp",
		Sources: []models.SourceSpec{{Kind: KindOpenMeteo, URL: srv.URL}},
	}

	first := f.Fetch(context.Background(), spec)
	require.True(t, first.Ok())

	fail.Store(true)
	mu.Lock()
	now = now.Add(90 * time.Second)
	mu.Unlock()

	second := f.Fetch(context.Background(), spec)
	require.True(t, second.Ok())
	assert.True(t, second.Stale)
	assert.Equal(t, 18.5, second.Value)
	assert.Equal(t, 90*time.Second, second.Freshness)
	assert.Equal(t, 0.5, second.Uptime)
	assert.Equal(t, []string{OutcomeOK, OutcomeStale}, m.outcomes["berlin"])
}

func TestFetchDropsExpiredLastGood(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`1.25`))
	}))
	defer srv.Close()

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newTestFetcher(WithClock(clock), WithStaleTTL(time.Minute))
	spec := models.AgentSpec{Name: "x", Market: "m", Sources: []models.SourceSpec{{Kind: KindScalar, URL: srv.URL}}}

	require.True(t, f.Fetch(context.Background(), spec).Ok())
	fail.Store(true)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	assert.False(t, f.Fetch(context.Background(), spec).Ok())
}

func TestBreakerStopsHammeringDeadSource(t *testing.T) {
	var hits int32
	down := jsonServer(t, http.StatusInternalServerError, "down", &hits)

	f := newTestFetcher(WithBreaker(3, time.Minute))
	spec := models.AgentSpec{Name: "dead", Market: "m", Sources: []models.SourceSpec{{Kind: KindScalar, URL: down.URL}}}

	for i := 0; i < 6; i++ {
		assert.False(t, f.Fetch(context.Background(), spec).Ok())
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	states := f.BreakerStates()
	require.Len(t, states, 1)
	for _, st := range states {
		assert.Equal(t, "open", st)
	}

	last := f.Fetch(context.Background(), spec)
	assert.Contains(t, last.Err, "circuit breaker is open")
}

func TestFetchUnknownKindSkipsNetwork(t *testing.T) {
	var hits int32
	srv := jsonServer(t, http.StatusOK, `1`, &hits)

	f := newTestFetcher()
	obs := f.Fetch(context.Background(), models.AgentSpec{
		Name: "odd", Market: "m", Sources: []models.SourceSpec{{Kind: "mystery", URL: srv.URL}},
	})
	assert.False(t, obs.Ok())
	assert.Contains(t, obs.Err, "unknown source kind")
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestFetchAllKeepsOrder(t *testing.T) {
	a := jsonServer(t, http.StatusOK, `1`, nil)
	b := jsonServer(t, http.StatusOK, `2`, nil)
	c := jsonServer(t, http.StatusInternalServerError, ``, nil)

	f := newTestFetcher(WithConcurrency(2))
	specs := []models.AgentSpec{
		{Name: "a", Market: "m", Sources: []models.SourceSpec{{Kind: KindScalar, URL: a.URL}}},
		{Name: "b", Market: "m", Sources: []models.SourceSpec{{Kind: KindScalar, URL: b.URL}}},
		{Name: "c", Market: "m", Sources: []models.SourceSpec{{Kind: KindScalar, URL: c.URL}}},
		{Name: "d", Market: "m"},
	}

	obs := f.FetchAll(context.Background(), specs)
	require.Len(t, obs, 4)
	assert.Equal(t, "a", obs[0].Agent)
	assert.Equal(t, 1.0, obs[0].Value)
	assert.Equal(t, 2.0, obs[1].Value)
	assert.False(t, obs[2].Ok())
	assert.Equal(t, "no sources configured", obs[3].Err)
}
