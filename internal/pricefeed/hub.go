package pricefeed

import "sync"

// Hub fans ticks out to subscribers. A slow subscriber only ever misses
// stale ticks: its buffer keeps the newest ones.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Tick
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Tick)}
}

// Subscribe returns a tick channel and a function that releases it.
func (h *Hub) Subscribe(buffer int) (<-chan Tick, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Tick, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers t to every subscriber without blocking.
func (h *Hub) Publish(t Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- t:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t:
		default:
		}
	}
}
