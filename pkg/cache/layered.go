package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

type LayeredOption func(*LayeredCache)

func WithLayeredMemorySize(n int) LayeredOption {
	return func(lc *LayeredCache) { lc.l1Size = n }
}

// WithLayeredMemoryTTL caps how long a local copy may shadow the shared one.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(lc *LayeredCache) {
		if ttl > 0 {
			lc.l1TTL = ttl
		}
	}
}

// LayeredCache keeps a short-lived in-process copy in front of a shared
// Service. Writes reach the shared layer first; locks never touch the local one.
type LayeredCache struct {
	l1     *MemoryCache
	l2     Service
	l1Size int
	l1TTL  time.Duration
}

func NewLayeredCache(l2 Service, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{l2: l2, l1Size: 1000, l1TTL: 30 * time.Second}
	for _, opt := range opts {
		opt(lc)
	}
	lc.l1 = NewMemoryCache(WithMemoryMaxSize(lc.l1Size))
	return lc
}

func (lc *LayeredCache) localTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < lc.l1TTL {
		return ttl
	}
	return lc.l1TTL
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.l2.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	return lc.l1.Set(ctx, key, data, lc.localTTL(ttl))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if lc.l1.Get(ctx, key, &data) == nil {
		return decode(data, dest)
	}
	if err := lc.l2.Get(ctx, key, &data); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, data, lc.l1TTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

func (lc *LayeredCache) Close() error {
	err := lc.l1.Close()
	if c, ok := lc.l2.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
