package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The default run: 9000 ticks, seed 42, 400 permutations, default gate.
func TestDefaultRunIsReproducible(t *testing.T) {
	if testing.Short() {
		t.Skip("full 9000-tick run")
	}
	ctx := context.Background()
	cfg := DefaultConfig()

	first, ev, err := Run(ctx, cfg)
	require.NoError(t, err)
	second, _, err := Run(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.Tests, second.Tests)
	assert.Equal(t, first.NullSummaries, second.NullSummaries)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Equal(t, Confusion{TP: 2, FP: 1, FN: 808, TN: 8189}, ev.Confusion)

	r := first.Tests
	require.Len(t, r, 5)

	// cooldown 8 allows at most one alert per 9 ticks, so recall and F1
	// stay far below the 0.60 bar
	assert.Equal(t, "classification_f1", r[0].Name)
	assert.InDelta(t, 4.0/813, r[0].Metric, 1e-9)
	assert.Equal(t, 1.0, r[0].PValue)
	assert.False(t, r[0].Passed)

	assert.Equal(t, "lead_time_ticks", r[1].Name)
	assert.Zero(t, r[1].Metric)
	assert.False(t, r[1].Passed)

	assert.Equal(t, "alpha_separation_cohens_d", r[2].Name)
	assert.InDelta(t, 0.7238, r[2].Metric, 1e-3)
	assert.InDelta(t, 0.0025, r[2].PValue, 1e-3)
	assert.False(t, r[2].Passed, "d below 0.8")

	assert.Equal(t, "false_positive_rate", r[3].Name)
	assert.InDelta(t, 1.0/8190, r[3].Metric, 1e-9)
	assert.True(t, r[3].Passed)

	assert.Equal(t, "strategy_sharpe", r[4].Name)
	assert.InDelta(t, 7.7433, r[4].Metric, 1e-3)
	assert.InDelta(t, 0.2469, r[4].PValue, 1e-3)
	assert.False(t, r[4].Passed, "not significant")

	assert.Equal(t, 1, first.PassCount)
}
