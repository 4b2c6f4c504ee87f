package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayeredCacheReadsThroughToL2(t *testing.T) {
	ctx := context.Background()
	l2 := NewMemoryCache()
	lc := NewLayeredCache(l2)
	defer lc.Close()

	require.NoError(t, l2.Set(ctx, "frame:latest", point{Value: 3}, time.Minute))

	var got point
	require.NoError(t, lc.Get(ctx, "frame:latest", &got))
	assert.Equal(t, 3.0, got.Value)

	// served from L1 after the L2 copy is gone
	require.NoError(t, l2.Delete(ctx, "frame:latest"))
	got = point{}
	require.NoError(t, lc.Get(ctx, "frame:latest", &got))
	assert.Equal(t, 3.0, got.Value)
}

func TestLayeredCacheWritesThrough(t *testing.T) {
	ctx := context.Background()
	l2 := NewMemoryCache()
	lc := NewLayeredCache(l2, WithLayeredMemoryTTL(time.Second))
	defer lc.Close()

	require.NoError(t, lc.Set(ctx, "k", point{Value: 9}, time.Minute))
	var got point
	require.NoError(t, l2.Get(ctx, "k", &got))
	assert.Equal(t, 9.0, got.Value)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestLayeredCacheLocksOnL2(t *testing.T) {
	ctx := context.Background()
	l2 := NewMemoryCache()
	a := NewLayeredCache(l2)
	b := NewLayeredCache(l2)
	defer a.Close()
	defer b.Close()

	ok, err := a.TryLock(ctx, "forge:cycle", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.TryLock(ctx, "forge:cycle", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
