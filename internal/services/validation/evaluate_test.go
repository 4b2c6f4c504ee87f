package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Ticks = 4000
	cfg.Permutations = 60
	return cfg
}

func TestEvaluateReportsFiveTests(t *testing.T) {
	cfg := smallConfig()
	ds := GenerateSynthetic(cfg.Seed, cfg.Ticks)
	bt := RunBacktest(ds.Prices, cfg.Config)

	ev, err := Evaluate(context.Background(), ds, bt, cfg)
	require.NoError(t, err)
	require.Len(t, ev.Results, 5)

	names := make([]string, 0, 5)
	for _, r := range ev.Results {
		names = append(names, r.Name)
		assert.GreaterOrEqual(t, r.PValue, 0.0, r.Name)
		assert.LessOrEqual(t, r.PValue, 1.0, r.Name)
	}
	assert.Equal(t, []string{
		TestClassificationF1,
		TestLeadTime,
		TestAlphaSeparation,
		TestFalsePositive,
		TestStrategySharpe,
	}, names)

	for name, null := range ev.Nulls {
		assert.Len(t, null, cfg.Permutations, name)
	}
	assert.Equal(t, 0.0, ev.Results[3].PValue)
}

func TestEvaluatePassLogic(t *testing.T) {
	cfg := smallConfig()
	ds := GenerateSynthetic(cfg.Seed, cfg.Ticks)
	ev, err := Evaluate(context.Background(), ds, RunBacktest(ds.Prices, cfg.Config), cfg)
	require.NoError(t, err)

	r := ev.Results
	assert.Equal(t, r[0].Metric >= MinF1 && r[0].PValue < Significance, r[0].Passed)
	assert.Equal(t, r[1].Metric >= MinLeadTicks && r[1].PValue < Significance, r[1].Passed)
	assert.Equal(t, r[2].Metric >= MinCohensD && r[2].PValue < Significance, r[2].Passed)
	assert.Equal(t, r[3].Metric <= MaxFalsePosRate, r[3].Passed)
	assert.Equal(t, r[4].Metric >= MinSharpe && r[4].PValue < Significance, r[4].Passed)
	assert.GreaterOrEqual(t, r[0].PValue, ev.Chi2P)
}

func TestEvaluateSeparatesFrozenAlpha(t *testing.T) {
	cfg := smallConfig()
	ds := GenerateSynthetic(cfg.Seed, cfg.Ticks)
	bt := RunBacktest(ds.Prices, cfg.Config)

	pos, neg := SplitByLabel(bt.Alphas, ds.Labels)
	assert.Greater(t, meanOf(pos), meanOf(neg))

	ev, err := Evaluate(context.Background(), ds, bt, cfg)
	require.NoError(t, err)
	assert.Positive(t, ev.CohensD)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := smallConfig()
	ds := GenerateSynthetic(cfg.Seed, cfg.Ticks)
	bt := RunBacktest(ds.Prices, cfg.Config)

	a, err := Evaluate(context.Background(), ds, bt, cfg)
	require.NoError(t, err)
	b, err := Evaluate(context.Background(), ds, bt, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Results, b.Results)
	assert.Equal(t, a.Nulls, b.Nulls)
}

func TestEvaluateRejectsMismatchedLengths(t *testing.T) {
	ds := GenerateSynthetic(1, 100)
	bt := Backtest{Alphas: make([]float64, 99), Preds: make([]int, 99)}
	_, err := Evaluate(context.Background(), ds, bt, DefaultConfig())
	assert.Error(t, err)
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	cfg := smallConfig()
	ds := GenerateSynthetic(cfg.Seed, cfg.Ticks)
	bt := RunBacktest(ds.Prices, cfg.Config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, ds, bt, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}
