package validation

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"TPMForge/internal/services/features"
	"TPMForge/internal/services/rolling"
)

// Confusion is a binary confusion matrix.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TN int `json:"tn"`
}

// NewConfusion tallies preds against labels. Extra elements of the longer
// slice are ignored.
func NewConfusion(labels, preds []int) Confusion {
	var c Confusion
	n := min(len(labels), len(preds))
	for i := 0; i < n; i++ {
		switch {
		case labels[i] == 1 && preds[i] == 1:
			c.TP++
		case labels[i] == 0 && preds[i] == 1:
			c.FP++
		case labels[i] == 1 && preds[i] == 0:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

func (c Confusion) Precision() float64 { return float64(c.TP) / float64(max(c.TP+c.FP, 1)) }

func (c Confusion) Recall() float64 { return float64(c.TP) / float64(max(c.TP+c.FN, 1)) }

func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	return 2 * p * r / math.Max(p+r, 1e-12)
}

// FalsePositiveRate is fp/(fp+tn).
func (c Confusion) FalsePositiveRate() float64 {
	return float64(c.FP) / float64(max(c.FP+c.TN, 1))
}

// Chi2PValue is the 2x2 chi-square independence p-value (one degree of
// freedom). Empty rows or columns give 1 and the result is clamped to [0,1].
func Chi2PValue(c Confusion) float64 {
	tp, fp, fn, tn := float64(c.TP), float64(c.FP), float64(c.FN), float64(c.TN)
	n := tp + fp + fn + tn
	if n == 0 {
		return 1
	}
	row1, row2 := tp+fp, fn+tn
	col1, col2 := tp+fn, fp+tn
	if row1 == 0 || row2 == 0 || col1 == 0 || col2 == 0 {
		return 1
	}
	num := n * math.Pow(tp*tn-fp*fn, 2)
	den := row1 * row2 * col1 * col2
	if den <= 0 {
		return 1
	}
	chi2 := num / den
	return clamp01(math.Erfc(math.Sqrt(chi2 / 2)))
}

// PermutationPValue is (k+1)/(len(null)+1) where k counts null values at or
// above observed. An empty null gives 1.
func PermutationPValue(observed float64, null []float64) float64 {
	if len(null) == 0 {
		return 1
	}
	k := 0
	for _, v := range null {
		if v >= observed {
			k++
		}
	}
	return float64(k+1) / float64(len(null)+1)
}

// EventStarts returns indices i >= 1 where labels rise from 0 to 1.
func EventStarts(labels []int) []int {
	var starts []int
	for i := 1; i < len(labels); i++ {
		if labels[i] == 1 && labels[i-1] == 0 {
			starts = append(starts, i)
		}
	}
	return starts
}

// LeadTimes returns, per event start s, the gap s-t to the last alert t in
// [s-window, s). Events with no alert in range are skipped.
func LeadTimes(labels, preds []int, window int) []int {
	var leads []int
	for _, s := range EventStarts(labels) {
		lo := max(0, s-window)
		last := -1
		for t := lo; t < s && t < len(preds); t++ {
			if preds[t] == 1 {
				last = t
			}
		}
		if last >= 0 {
			leads = append(leads, s-last)
		}
	}
	return leads
}

// CohensD is (mean(pos)-mean(neg)) over the population std of the pooled
// sample, with the denominator floored at 1e-12.
func CohensD(pos, neg []float64) float64 {
	pooled := make([]float64, 0, len(pos)+len(neg))
	pooled = append(pooled, pos...)
	pooled = append(pooled, neg...)
	return (meanOf(pos) - meanOf(neg)) / math.Max(rolling.PopStdDev(pooled), 1e-12)
}

// SplitByLabel separates alphas into positives and negatives.
func SplitByLabel(alphas []float64, labels []int) (pos, neg []float64) {
	n := min(len(alphas), len(labels))
	for i := 0; i < n; i++ {
		if labels[i] == 1 {
			pos = append(pos, alphas[i])
		} else {
			neg = append(neg, alphas[i])
		}
	}
	return pos, neg
}

// StrategyReturns shorts the next tick after each alert: the strategy earns
// -ret[i] when preds[i] is 1 and nothing otherwise. The result has
// len(prices)-1 elements.
func StrategyReturns(marketReturns []float64, preds []int) []float64 {
	if len(marketReturns) < 2 {
		return nil
	}
	out := make([]float64, len(marketReturns)-1)
	for i := 1; i < len(marketReturns); i++ {
		if i < len(preds) && preds[i] == 1 {
			out[i-1] = -marketReturns[i]
		}
	}
	return out
}

// MinutesPerYear annualises per-minute tick returns.
var MinutesPerYear = features.BarsPerYearForTF("1m")

// SharpeRatio is mean/pstd annualised by MinutesPerYear, with the std
// floored at 1e-12.
func SharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return features.AnnualizedSharpe(meanOf(returns), math.Max(rolling.PopStdDev(returns), 1e-12), MinutesPerYear)
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

func meanInts(vals []int) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return float64(sum) / float64(len(vals))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Min(1, math.Max(0, v))
}

func randomPreds(rng *rand.Rand, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = rng.IntN(2)
	}
	return out
}
