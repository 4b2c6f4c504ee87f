package validation

import (
	"context"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/services/features"
)

// Test names, in report order.
const (
	TestClassificationF1 = "classification_f1"
	TestLeadTime         = "lead_time_ticks"
	TestAlphaSeparation  = "alpha_separation_cohens_d"
	TestFalsePositive    = "false_positive_rate"
	TestStrategySharpe   = "strategy_sharpe"
)

// Pass thresholds.
const (
	MinF1           = 0.60
	MinLeadTicks    = 5.0
	MinCohensD      = 0.80
	MaxFalsePosRate = 0.30
	MinSharpe       = 0.5
	Significance    = 0.05
)

// Seed offsets for the null distributions.
const (
	seedOffsetF1     = 100
	seedOffsetLead   = 101
	seedOffsetD      = 102
	seedOffsetSharpe = 103
)

// Evaluation is the full statistical readout of one backtest.
type Evaluation struct {
	Confusion Confusion
	Precision float64
	Recall    float64
	F1        float64
	Chi2P     float64
	LeadTimes []int
	CohensD   float64
	FPR       float64
	Sharpe    float64

	Results []models.TestResult
	Nulls   map[string][]float64
}

// PassCount is the number of passing tests.
func (e *Evaluation) PassCount() int {
	n := 0
	for _, r := range e.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// Evaluate scores a backtest against ground truth and runs the four
// permutation tests concurrently. Each null draws from its own seeded stream
// so the outcome does not depend on scheduling.
func Evaluate(ctx context.Context, ds Dataset, bt Backtest, cfg Config) (*Evaluation, error) {
	labels, preds := ds.Labels, bt.Preds
	if len(labels) != len(preds) || len(bt.Alphas) != len(preds) {
		return nil, fmt.Errorf("evaluate: length mismatch labels=%d preds=%d alphas=%d",
			len(labels), len(preds), len(bt.Alphas))
	}

	ev := &Evaluation{Confusion: NewConfusion(labels, preds)}
	ev.Precision = ev.Confusion.Precision()
	ev.Recall = ev.Confusion.Recall()
	ev.F1 = ev.Confusion.F1()
	ev.Chi2P = Chi2PValue(ev.Confusion)
	ev.FPR = ev.Confusion.FalsePositiveRate()
	ev.LeadTimes = LeadTimes(labels, preds, cfg.PreEventWindow)
	pos, neg := SplitByLabel(bt.Alphas, labels)
	ev.CohensD = CohensD(pos, neg)
	market := features.ComputeReturns(ds.Prices)
	ev.Sharpe = SharpeRatio(StrategyReturns(market, preds))

	var nullF1, nullLead, nullD, nullSR []float64
	perms := cfg.Permutations

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rng := rand.New(newSource(cfg.Seed + seedOffsetF1))
		nullF1 = make([]float64, 0, perms)
		for i := 0; i < perms; i++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			nullF1 = append(nullF1, NewConfusion(labels, randomPreds(rng, len(labels))).F1())
		}
		return nil
	})
	g.Go(func() error {
		rng := rand.New(newSource(cfg.Seed + seedOffsetLead))
		draws := max(1, len(ev.LeadTimes))
		sample := make([]int, draws)
		nullLead = make([]float64, 0, perms)
		for i := 0; i < perms; i++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j := range sample {
				sample[j] = 1 + rng.IntN(cfg.PreEventWindow)
			}
			nullLead = append(nullLead, meanInts(sample))
		}
		return nil
	})
	g.Go(func() error {
		rng := rand.New(newSource(cfg.Seed + seedOffsetD))
		shuf := make([]float64, 0, len(pos)+len(neg))
		nullD = make([]float64, 0, perms)
		for i := 0; i < perms; i++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			shuf = append(append(shuf[:0], pos...), neg...)
			rng.Shuffle(len(shuf), func(a, b int) { shuf[a], shuf[b] = shuf[b], shuf[a] })
			nullD = append(nullD, CohensD(shuf[:len(pos)], shuf[len(pos):]))
		}
		return nil
	})
	g.Go(func() error {
		rng := rand.New(newSource(cfg.Seed + seedOffsetSharpe))
		nullSR = make([]float64, 0, perms)
		for i := 0; i < perms; i++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			nullSR = append(nullSR, SharpeRatio(StrategyReturns(market, randomPreds(rng, len(preds)))))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate: permutation tests: %w", err)
	}

	ev.Nulls = map[string][]float64{
		TestClassificationF1: nullF1,
		TestLeadTime:         nullLead,
		TestAlphaSeparation:  nullD,
		TestStrategySharpe:   nullSR,
	}

	pF1 := max(ev.Chi2P, PermutationPValue(ev.F1, nullF1))
	leadMean := meanInts(ev.LeadTimes)
	pLead := PermutationPValue(leadMean, nullLead)
	pD := PermutationPValue(ev.CohensD, nullD)
	pSR := PermutationPValue(ev.Sharpe, nullSR)

	ev.Results = []models.TestResult{
		{
			Name:   TestClassificationF1,
			Metric: ev.F1,
			PValue: pF1,
			Passed: ev.F1 >= MinF1 && pF1 < Significance,
			Notes:  fmt.Sprintf("precision=%.3f, recall=%.3f, chi2_p=%.4f", ev.Precision, ev.Recall, ev.Chi2P),
		},
		{
			Name:   TestLeadTime,
			Metric: leadMean,
			PValue: pLead,
			Passed: leadMean >= MinLeadTicks && pLead < Significance,
			Notes:  fmt.Sprintf("lead_events=%d", len(ev.LeadTimes)),
		},
		{
			Name:   TestAlphaSeparation,
			Metric: ev.CohensD,
			PValue: pD,
			Passed: ev.CohensD >= MinCohensD && pD < Significance,
			Notes:  "frozen vs normal alpha separation",
		},
		{
			Name:   TestFalsePositive,
			Metric: ev.FPR,
			PValue: 0,
			Passed: ev.FPR <= MaxFalsePosRate,
			Notes:  fmt.Sprintf("fp_rate=%.3f", ev.FPR),
		},
		{
			Name:   TestStrategySharpe,
			Metric: ev.Sharpe,
			PValue: pSR,
			Passed: ev.Sharpe >= MinSharpe && pSR < Significance,
			Notes:  "short-on-alert proxy",
		},
	}
	return ev, nil
}
