package alpha

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fireIndices(d *Detector, scores []float64) []int {
	var out []int
	for i, s := range scores {
		if d.Observe(s).Fired {
			out = append(out, i)
		}
	}
	return out
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestCooldownSpacesFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Warmup = 5
	d := NewDetector(cfg)

	// every score is a new maximum, above the floor, with momentum 0.006
	fires := fireIndices(d, rising(80, 0.41, 0.006))
	require.NotEmpty(t, fires)
	assert.Equal(t, 5, fires[0])
	for i := 1; i < len(fires); i++ {
		assert.Equal(t, cfg.CooldownTicks, fires[i]-fires[i-1], "gap between fire %d and %d", i-1, i)
	}
}

func TestNoFireDuringWarmup(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	fires := fireIndices(d, rising(120, 0.41, 0.006))
	require.NotEmpty(t, fires)
	assert.Equal(t, cfg.Warmup, fires[0], "first fire needs history longer than warm-up")
}

func TestFloorBlocksLowScores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Warmup = 5
	d := NewDetector(cfg)
	assert.Empty(t, fireIndices(d, rising(60, 0.0, 0.006)))
}

func TestMomentumGateRejectsSlowDrift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Warmup = 5
	d := NewDetector(cfg)
	assert.Empty(t, fireIndices(d, rising(200, 0.5, 0.001)))
}

func TestProcessPriceWaitsForFullWindow(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	for i := 0; i < cfg.WindowSize; i++ {
		dec := d.ProcessPrice(100)
		assert.Equal(t, Decision{}, dec)
	}
	dec := d.ProcessPrice(100)
	assert.Greater(t, dec.Alpha, 0.6)
	assert.False(t, dec.Fired)

	snap := d.Snapshot()
	assert.Equal(t, "warming", snap.State)
	assert.Equal(t, int64(cfg.WindowSize+1), snap.Ticks)
	assert.Equal(t, 1, snap.HistoryLen)
}

func TestProcessPriceZeroPrevious(t *testing.T) {
	d := NewDetector(DefaultConfig())
	assert.NotPanics(t, func() {
		for i := 0; i < 100; i++ {
			d.ProcessPrice(0)
		}
	})
}

func TestStateArmsAfterWarmup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Warmup = 3
	d := NewDetector(cfg)
	for i := 0; i < 3; i++ {
		d.Observe(0.1)
	}
	assert.Equal(t, Warming, d.State())
	d.Observe(0.1)
	assert.Equal(t, Armed, d.State())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Percentile = 101
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.WindowSize = -1
	assert.Error(t, bad.Validate())
}

func TestObserveTreatsNonFiniteAsZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	cfg.Warmup = 1
	d := NewDetector(cfg)

	for _, s := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		dec := d.Observe(s)
		assert.False(t, dec.Fired)
		assert.Equal(t, 0.0, dec.Alpha)
	}
	require.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			d.Observe(0.5)
		}
	})
	assert.Equal(t, 0.5, d.Snapshot().LastAlpha)
	assert.Equal(t, 3, d.Snapshot().HistoryLen)
}
