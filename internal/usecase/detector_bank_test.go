package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/services/alpha"
	"TPMForge/pkg/logger"
)

type memAlertSink struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (s *memAlertSink) ProcessAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func newTestBank(sink AlertSink, m *metricsRecorder, gate func() Gate) *DetectorBank {
	return NewDetectorBank(alpha.DefaultConfig(), sink, m, logger.Nop(),
		WithGateFactory(gate),
		WithBankClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func TestDetectorBank_FiresAndDelivers(t *testing.T) {
	sink := &memAlertSink{}
	m := newMetrics()
	bank := newTestBank(sink, m, func() Gate { return &firingGate{above: 5} })
	ctx := context.Background()

	a, err := bank.Observe(ctx, &models.Tick{Series: "btc", Value: 1})
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = bank.Observe(ctx, &models.Tick{Series: "btc", Value: 9})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(2), a.Index, "index falls back to the detector tick count")
	assert.Equal(t, 9.0, a.Alpha)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), a.At)

	a, err = bank.Observe(ctx, &models.Tick{Series: "eth", Index: 40, Value: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.Index)

	assert.Len(t, sink.alerts, 2)
	assert.Equal(t, []string{"btc", "eth"}, m.alerts)
	assert.Equal(t, 2, bank.Len())

	snaps := bank.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "btc", snaps[0].Series)
	assert.Equal(t, int64(2), snaps[0].Ticks)
}

func TestDetectorBank_SinkFailureIsNotReturned(t *testing.T) {
	sink := &memAlertSink{err: errors.New("down")}
	bank := newTestBank(sink, newMetrics(), func() Gate { return &firingGate{above: 0} })

	a, err := bank.Observe(context.Background(), &models.Tick{Series: "btc", Value: 1})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestDetectorBank_RejectsInvalidTicks(t *testing.T) {
	bank := newTestBank(nil, newMetrics(), func() Gate { return &firingGate{} })
	ctx := context.Background()

	for name, tick := range map[string]*models.Tick{
		"nil":    nil,
		"series": {Value: 1},
		"nan":    {Series: "x", Value: math.NaN()},
		"inf":    {Series: "x", Value: math.Inf(1)},
	} {
		_, err := bank.Observe(ctx, tick)
		assert.ErrorIs(t, err, ErrInvalidTick, name)
	}
	assert.Equal(t, 0, bank.Len())
}

func TestDetectorBank_PanicIsContained(t *testing.T) {
	m := newMetrics()
	bank := newTestBank(nil, m, func() Gate { return panicGate{} })

	a, err := bank.Observe(context.Background(), &models.Tick{Series: "bad", Value: 1})
	assert.NoError(t, err)
	assert.Nil(t, a)
	assert.Contains(t, m.errors(), "detector_panic")
}

func TestDetectorBank_Closed(t *testing.T) {
	bank := newTestBank(nil, newMetrics(), func() Gate { return &firingGate{} })
	bank.Close()
	assert.ErrorIs(t, bank.Process(context.Background(), &models.Tick{Series: "x", Value: 1}), ErrBankClosed)
}

func TestDetectorBank_RealDetector(t *testing.T) {
	bank := NewDetectorBank(alpha.DefaultConfig(), nil, newMetrics(), nil)
	ctx := context.Background()
	price := 100.0
	for i := range 50 {
		price += 0.1 * float64(i%3-1)
		require.NoError(t, bank.Process(ctx, &models.Tick{Series: "btc", Value: price}))
	}
	snaps := bank.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(50), snaps[0].Ticks)
}

func TestDetectorBank_ConcurrentSeries(t *testing.T) {
	m := newMetrics()
	bank := newTestBank(nil, m, func() Gate { return &firingGate{above: 1000} })
	var wg sync.WaitGroup
	for _, s := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				_ = bank.Process(context.Background(), &models.Tick{Series: s, Value: float64(i)})
			}
		}()
	}
	wg.Wait()
	for _, snap := range bank.Snapshots() {
		assert.Equal(t, int64(100), snap.Ticks, snap.Series)
	}
}
