package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entries without a ttl still expire, so a forgotten key cannot pin memory
const memoryMaxTTL = 7 * 24 * time.Hour

type MemoryOption func(*MemoryCache)

// WithMemoryMaxSize bounds the entry count; the least recently used entry
// goes first.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(m *MemoryCache) {
		if n > 0 {
			m.max = n
		}
	}
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCache) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMemorySweep(every time.Duration) MemoryOption {
	return func(m *MemoryCache) {
		if every > 0 {
			m.sweepEvery = every
		}
	}
}

type memEntry struct {
	key     string
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process Service with LRU eviction. Locks are plain
// entries, so they only exclude callers in this process.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front is most recently used
	max   int
	now   func() time.Time

	sweepEvery time.Duration
	stop       chan struct{}
	closeOnce  sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		max:        1000,
		now:        time.Now,
		sweepEvery: 5 * time.Minute,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(key, data, ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	e := m.live(key)
	var data []byte
	if e != nil {
		data = e.data
	}
	m.mu.Unlock()

	if e == nil {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.items[k]; ok {
			m.remove(el)
		}
	}
	return nil
}

func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.put(key, []byte("locked"), ttl)
	return true, nil
}

func (m *MemoryCache) Unlock(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

// Len counts stored entries, expired ones not yet swept included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryCache) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > memoryMaxTTL {
		ttl = memoryMaxTTL
	}
	expires := m.now().Add(ttl)
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		e.data, e.expires = data, expires
		m.order.MoveToFront(el)
		return
	}
	for m.order.Len() >= m.max {
		m.remove(m.order.Back())
	}
	m.items[key] = m.order.PushFront(&memEntry{key: key, data: data, expires: expires})
}

// live returns the unexpired entry for key and marks it recently used.
func (m *MemoryCache) live(key string) *memEntry {
	el, ok := m.items[key]
	if !ok {
		return nil
	}
	e := el.Value.(*memEntry)
	if m.now().After(e.expires) {
		m.remove(el)
		return nil
	}
	m.order.MoveToFront(el)
	return e
}

func (m *MemoryCache) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}

func (m *MemoryCache) sweepLoop() {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mu.Lock()
			now := m.now()
			for el := m.order.Back(); el != nil; {
				prev := el.Prev()
				if now.After(el.Value.(*memEntry).expires) {
					m.remove(el)
				}
				el = prev
			}
			m.mu.Unlock()
		}
	}
}
