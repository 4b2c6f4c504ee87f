package entropy

import (
	"math"
)

const (
	DefaultBins = 12
	DefaultLag  = 1

	eps = 1e-12
)

// Engine estimates transfer entropy between two series using equal-width binning.
type Engine struct {
	Bins int
	Lag  int
}

// NewEngine returns an engine with the given bin count and lag; non-positive values use the defaults.
func NewEngine(bins, lag int) Engine {
	if bins < 1 {
		bins = DefaultBins
	}
	if lag < 1 {
		lag = DefaultLag
	}
	return Engine{Bins: bins, Lag: lag}
}

type pair struct{ a, b int }

type triple struct{ next, cur, src int }

// Score estimates TE(x -> y) in bits: how much x[t] tells about y[t+1] beyond y[t].
// Series are truncated to their common length n; n < lag+3 yields 0. The result is never negative.
func (e Engine) Score(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < e.Lag+3 {
		return 0
	}
	xb := Digitize(x[:n], e.Bins)
	yb := Digitize(y[:n], e.Bins)

	cXYZ := make(map[triple]int)
	cYZ := make(map[pair]int)
	cXY := make(map[pair]int)
	cY := make(map[int]int)
	for t := e.Lag; t < n-1; t++ {
		y1, y0, x0 := yb[t+1], yb[t], xb[t]
		cXYZ[triple{y1, y0, x0}]++
		cYZ[pair{y0, x0}]++
		cXY[pair{y1, y0}]++
		cY[y0]++
	}

	total := float64(n - e.Lag - 1)
	te := 0.0
	for k, count := range cXYZ {
		c := float64(count)
		pJoint := c / total
		pCond := c / float64(cYZ[pair{k.cur, k.src}])
		pMarg := float64(cXY[pair{k.next, k.cur}]) / float64(cY[k.cur])
		te += pJoint * math.Log2(pCond/math.Max(pMarg, eps)+eps)
	}
	if te < 0 || math.IsNaN(te) {
		return 0
	}
	return te
}

// Digitize maps each value to one of bins equal-width buckets spanning [min,max] of vals.
// A constant series maps entirely to bucket 0.
func Digitize(vals []float64, bins int) []int {
	out := make([]int, len(vals))
	if len(vals) == 0 || bins < 1 {
		return out
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return out
	}
	step := (hi - lo) / float64(bins)
	for i, v := range vals {
		b := int((v - lo) / step)
		if b < 0 {
			b = 0
		} else if b > bins-1 {
			b = bins - 1
		}
		out[i] = b
	}
	return out
}
