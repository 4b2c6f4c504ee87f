package rolling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 25.0, Percentile([]float64{10, 20, 30, 40}, 50), 1e-12)
	assert.Equal(t, 5.0, Percentile([]float64{5}, 90))
	assert.Equal(t, 0.0, Percentile(nil, 42))
	assert.Equal(t, 0.0, Percentile([]float64{}, 100))
}

func TestPercentileClampsAndDoesNotMutate(t *testing.T) {
	vals := []float64{3, 1, 2}
	assert.Equal(t, 3.0, Percentile(vals, 150))
	assert.Equal(t, 1.0, Percentile(vals, -5))
	assert.Equal(t, []float64{3, 1, 2}, vals)
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
	}
	require.True(t, w.Full())
	assert.Equal(t, []float64{3, 4, 5}, w.Values())
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, last)
	assert.InDelta(t, 4.0, w.Mean(), 1e-12)
}

func TestWindowPopulationStdDev(t *testing.T) {
	w := NewWindow(8)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Push(v)
	}
	assert.InDelta(t, 2.0, w.StdDev(), 1e-12)
	assert.InDelta(t, 4.0, w.Variance(), 1e-12)
}

func TestWindowDegenerate(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, 1, w.Cap())
	assert.Equal(t, 0.0, w.Mean())
	assert.Equal(t, 0.0, w.StdDev())
	_, ok := w.Last()
	assert.False(t, ok)

	w.Push(7)
	assert.Equal(t, 0.0, w.StdDev())
	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestSortedWindowMatchesPercentile(t *testing.T) {
	sw := NewSortedWindow(7)
	vals := []float64{0.5, 0.1, 0.9, 0.3, 0.3, 0.7, 0.2, 0.8, 0.05, 0.6, 0.3}
	for i, v := range vals {
		sw.Push(v)
		for _, p := range []float64{0, 25, 50, 95, 100} {
			require.InDelta(t, Percentile(sw.Values(), p), sw.Percentile(p), 1e-15, "step %d p %v", i, p)
		}
	}
	assert.Equal(t, 7, sw.Len())
}

func TestSortedWindowEvictsNaN(t *testing.T) {
	sw := NewSortedWindow(3)
	sw.Push(math.NaN())
	require.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			sw.Push(0.5)
		}
	})
	assert.Equal(t, 3, sw.Len())
	assert.Equal(t, 0.5, sw.Percentile(50))
	assert.Equal(t, 0.5, sw.Percentile(100))
}
