package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// Subscriber receives the changes of one collection. Its channel is closed
// on Unsubscribe or when the hub drops it for falling behind.
type Subscriber struct {
	Collection string

	ch      chan models.Change
	dropped atomic.Bool
}

func (s *Subscriber) Changes() <-chan models.Change { return s.ch }

// Dropped reports whether the hub closed the feed because its queue was full.
func (s *Subscriber) Dropped() bool { return s.dropped.Load() }

// Hub fans applied changes out to the subscribers of each collection.
// Publish never blocks: a subscriber whose queue is full is dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	logger logging.Logger
}

func NewHub(buffer int, logger logging.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger.With("module", "hub"),
	}
}

func (h *Hub) Subscribe(collection string) *Subscriber {
	s := &Subscriber{Collection: collection, ch: make(chan models.Change, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[collection]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[collection] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscriber) bool {
	set := h.subs[s.Collection]
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.Collection)
	}
	close(s.ch)
	return true
}

func (h *Hub) Publish(ctx context.Context, c models.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[c.Collection] {
		select {
		case s.ch <- c:
		default:
			s.dropped.Store(true)
			h.remove(s)
			h.logger.Warn(ctx, "dropping slow subscriber", "collection", c.Collection)
		}
	}
}

// Count returns the number of live subscribers of collection.
func (h *Hub) Count(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}
