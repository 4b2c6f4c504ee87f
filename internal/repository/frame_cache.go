package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TPMForge/internal/domain/models"
	domrepo "TPMForge/internal/domain/repository"
	"TPMForge/pkg/cache"
)

const (
	latestFrameKey = "frame:latest"
	cycleLockKey   = "forge:cycle"
)

// CachedFrames keeps the latest frame in pkg/cache so every replica serves
// the same frame, and uses the cache lock to keep one cycle running at a time.
type CachedFrames struct {
	c   cache.Service
	ttl time.Duration
}

var _ domrepo.FrameCache = (*CachedFrames)(nil)

// NewCachedFrames stores frames for ttl; ttl <= 0 falls back to the cache default.
func NewCachedFrames(c cache.Service, ttl time.Duration) *CachedFrames {
	return &CachedFrames{c: c, ttl: ttl}
}

func (f *CachedFrames) SaveFrame(ctx context.Context, fr *models.Frame) error {
	if fr == nil {
		return nil
	}
	if err := f.c.Set(ctx, latestFrameKey, fr, f.ttl); err != nil {
		return fmt.Errorf("cache frame: %w", err)
	}
	return nil
}

// LatestFrame returns nil without error when nothing is cached yet.
func (f *CachedFrames) LatestFrame(ctx context.Context) (*models.Frame, error) {
	var fr models.Frame
	if err := f.c.Get(ctx, latestFrameKey, &fr); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest frame: %w", err)
	}
	return &fr, nil
}

func (f *CachedFrames) TryLockCycle(ctx context.Context, ttl time.Duration) (bool, error) {
	return f.c.TryLock(ctx, cycleLockKey, ttl)
}

func (f *CachedFrames) UnlockCycle(ctx context.Context) error {
	return f.c.Unlock(ctx, cycleLockKey)
}
