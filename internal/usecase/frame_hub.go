package usecase

import (
	"sync"

	"TPMForge/internal/domain/models"
)

// FrameHub fans frames out to live subscribers. A slow subscriber loses its
// oldest queued frame rather than blocking the cycle.
type FrameHub struct {
	mu   sync.Mutex
	subs map[int]chan *models.Frame
	next int
	buf  int
}

func NewFrameHub(buf int) *FrameHub {
	if buf < 1 {
		buf = 1
	}
	return &FrameHub{subs: make(map[int]chan *models.Frame), buf: buf}
}

// Subscribe returns a frame channel and a cancel func that closes it.
func (h *FrameHub) Subscribe() (<-chan *models.Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan *models.Frame, h.buf)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *FrameHub) Broadcast(f *models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- f:
			continue
		default:
		}
		// full: drop the oldest, then retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

func (h *FrameHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber.
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
