package alpha

import (
	"math"

	"TPMForge/internal/services/rolling"
)

const (
	DefaultSteepness = 100.0
	DefaultBaseline  = 0.005

	// exponent bound for the logistic map
	maxExponent = 20.0
)

// Scorer maps the volatility of a return window to a score in [0,1].
// Low volatility scores high.
type Scorer struct {
	K        float64
	Baseline float64
}

// NewScorer returns a scorer with the default steepness and baseline volatility.
func NewScorer() Scorer {
	return Scorer{K: DefaultSteepness, Baseline: DefaultBaseline}
}

// Score returns 1/(1+exp(clamp(K*(popstd-Baseline), -20, 20))).
// Windows with fewer than two returns score 0.
func (s Scorer) Score(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return s.FromVolatility(rolling.PopStdDev(returns))
}

// FromVolatility applies the logistic map to an already computed volatility.
func (s Scorer) FromVolatility(vol float64) float64 {
	if math.IsNaN(vol) {
		return 0
	}
	x := s.K * (vol - s.Baseline)
	x = math.Max(-maxExponent, math.Min(maxExponent, x))
	return 1 / (1 + math.Exp(x))
}
