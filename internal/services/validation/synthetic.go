package validation

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	BasePrice   = 75000.0
	FrozenSigma = 4e-5
	NormalSigma = 1.2e-3
	JumpMin     = 0.002
	JumpMax     = 0.006
)

// Segment is a frozen stretch of ticks. Ticks with Start <= t < End are
// frozen and the tick at End carries the breakout jump.
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether t lies inside the frozen stretch.
func (s Segment) Contains(t int) bool { return s.Start <= t && t < s.End }

// DefaultSegments are the planted calm-before-the-break events.
var DefaultSegments = []Segment{
	{500, 610},
	{1450, 1600},
	{2750, 2860},
	{3900, 4050},
	{5300, 5440},
	{7100, 7250},
}

// Dataset is a generated price path with ground-truth labels. Labels[t] is 1
// while t is inside a frozen segment.
type Dataset struct {
	Prices   []float64
	Labels   []int
	Segments []Segment
}

// newSource seeds a PCG stream. The same seed always yields the same stream.
func newSource(seed int64) *rand.PCG {
	return rand.NewPCG(uint64(seed), 0x7470_6d66_6f72_6765)
}

// GenerateSynthetic builds an n-tick price path with DefaultSegments planted.
func GenerateSynthetic(seed int64, n int) Dataset {
	return GenerateWithSegments(seed, n, DefaultSegments)
}

// GenerateWithSegments builds an n-tick price path with the given segments.
func GenerateWithSegments(seed int64, n int, segments []Segment) Dataset {
	ds := Dataset{Segments: append([]Segment(nil), segments...)}
	if n <= 0 {
		return ds
	}

	src := newSource(seed)
	rng := rand.New(src)
	calm := distuv.Normal{Mu: 0, Sigma: FrozenSigma, Src: src}
	noisy := distuv.Normal{Mu: 0, Sigma: NormalSigma, Src: src}
	jump := distuv.Uniform{Min: JumpMin, Max: JumpMax, Src: src}

	ds.Prices = make([]float64, n)
	ds.Labels = make([]int, n)
	ds.Prices[0] = BasePrice

	for t := 1; t < n; t++ {
		frozen, breakout := false, false
		for _, seg := range segments {
			if seg.Contains(t) {
				frozen = true
			}
			if t == seg.End {
				breakout = true
			}
		}

		var ret float64
		if frozen {
			ret = calm.Rand()
			ds.Labels[t] = 1
		} else {
			ret = noisy.Rand()
		}
		if breakout {
			sign := 1.0
			if rng.IntN(2) == 0 {
				sign = -1
			}
			ret += sign * jump.Rand()
		}
		ds.Prices[t] = ds.Prices[t-1] * (1 + ret)
	}
	return ds
}
