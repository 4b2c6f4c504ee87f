package rolling

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Window is a fixed-capacity FIFO of float64 values backed by a ring buffer.
// A Window is not safe for concurrent use.
type Window struct {
	buf  []float64
	head int // index of the oldest element
	n    int
}

// NewWindow creates a window holding at most capacity values. Capacity below 1 is raised to 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends v. When the window is full the oldest value is evicted and returned.
func (w *Window) Push(v float64) (evicted float64, ok bool) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = v
		w.n++
		return 0, false
	}
	evicted = w.buf[w.head]
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return evicted, true
}

func (w *Window) Len() int   { return w.n }
func (w *Window) Cap() int   { return len(w.buf) }
func (w *Window) Full() bool { return w.n == len(w.buf) }

// Reset drops every value.
func (w *Window) Reset() {
	w.head, w.n = 0, 0
}

// Values returns a copy of the contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Last returns the newest value, or false when empty.
func (w *Window) Last() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}
	return w.buf[(w.head+w.n-1)%len(w.buf)], true
}

// Mean returns the arithmetic mean, 0 when empty.
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	return stat.Mean(w.Values(), nil)
}

// Variance returns the population variance, 0 for fewer than two values.
func (w *Window) Variance() float64 {
	sd := w.StdDev()
	return sd * sd
}

// StdDev returns the population standard deviation, 0 for fewer than two values.
func (w *Window) StdDev() float64 {
	return PopStdDev(w.Values())
}

// Percentile is Percentile applied to the window contents.
func (w *Window) Percentile(p float64) float64 {
	return Percentile(w.Values(), p)
}

// PopStdDev returns the population standard deviation of vals, 0 for fewer than two values.
func PopStdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	_, sd := stat.PopMeanStdDev(vals, nil)
	if math.IsNaN(sd) || sd < 0 {
		return 0
	}
	return sd
}

// Percentile returns the p-th percentile (p clamped to [0,100]) of vals using
// linear interpolation between the order statistics at index (n-1)*p/100.
// An empty input yields 0. vals is not modified.
func Percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))
	idx := float64(len(sorted)-1) * (p / 100)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
