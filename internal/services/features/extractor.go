package features

import "math"

// FractionalReturn returns (cur-prev)/prev, or 0 when prev is zero.
func FractionalReturn(prev, cur float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev
}

// ComputeReturns computes fractional returns r_t = (p_t - p_{t-1}) / p_{t-1}.
// The first element is 0 so the output is aligned with prices.
func ComputeReturns(prices []float64) []float64 {
	if len(prices) == 0 {
		return nil
	}
	out := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		out[i] = FractionalReturn(prices[i-1], prices[i])
	}
	return out
}

// BarsPerYearForTF returns the approximate number of bars per year for a timeframe.
func BarsPerYearForTF(tf string) float64 {
	switch tf {
	case "1s":
		return 365 * 24 * 60 * 60
	case "1m":
		return 365 * 24 * 60
	case "5m":
		return 365 * 24 * 12
	case "1h":
		return 365 * 24
	default:
		return 365 * 24 * 60
	}
}

// AnnualizedSharpe scales a per-bar mean/std ratio by sqrt(barsPerYear).
// std is floored at 1e-12 so a flat return series yields 0 rather than NaN.
func AnnualizedSharpe(mean, std, barsPerYear float64) float64 {
	return mean / math.Max(std, 1e-12) * math.Sqrt(barsPerYear)
}
