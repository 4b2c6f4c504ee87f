package validation

import "TPMForge/internal/services/alpha"

// Backtest holds per-tick detector output aligned with the input prices.
type Backtest struct {
	Alphas []float64
	Preds  []int
}

// RunBacktest replays prices through a fresh detector. The score history is
// sized to hold the whole replay so thresholds see every prior score.
func RunBacktest(prices []float64, cfg alpha.Config) Backtest {
	if cfg.HistorySize < len(prices) {
		cfg.HistorySize = len(prices)
	}
	det := alpha.NewDetector(cfg)

	bt := Backtest{
		Alphas: make([]float64, len(prices)),
		Preds:  make([]int, len(prices)),
	}
	for t, p := range prices {
		dec := det.ProcessPrice(p)
		bt.Alphas[t] = dec.Alpha
		if dec.Fired {
			bt.Preds[t] = 1
		}
	}
	return bt
}
