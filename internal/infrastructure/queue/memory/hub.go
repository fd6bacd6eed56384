package memory

import (
	"context"
	"sync"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// Hub is an in-process change feed used when no NATS server is configured.
// Slow subscribers drop events instead of blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan domain.ChangeEvent
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[int]chan domain.ChangeEvent),
		buffer: buffer,
	}
}

func (h *Hub) PublishChange(_ context.Context, event domain.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *Hub) SubscribeChanges(ctx context.Context, handler func(domain.ChangeEvent)) error {
	ch := make(chan domain.ChangeEvent, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-ch:
			handler(event)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
