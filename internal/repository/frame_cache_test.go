package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
	"TPMForge/pkg/cache"
)

func TestCachedFrames_RoundTrip(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	frames := NewCachedFrames(mc, time.Minute)
	ctx := context.Background()

	got, err := frames.LatestFrame(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := &models.Frame{
		TS:      100,
		CycleID: "c1",
		Signals: []models.AgentScore{{Agent: "btc", Fitness: 0.5}},
		Graph:   map[string]float64{"btc->eth": 0.2},
	}
	require.NoError(t, frames.SaveFrame(ctx, want))

	got, err = frames.LatestFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCachedFrames_CycleLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	frames := NewCachedFrames(mc, 0)
	ctx := context.Background()

	ok, err := frames.TryLockCycle(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = frames.TryLockCycle(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, frames.UnlockCycle(ctx))
	ok, err = frames.TryLockCycle(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
