// Package broadcast fans progress events out to connected observers.
//
// The Hub is an explicit registry created by the caller and shared by the
// event producers and the connection handlers. Delivery is best effort: each
// subscriber has a bounded queue, and a subscriber whose queue is full or
// closed is removed for good.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Defaults for Hub.
const (
	DefaultKeepaliveInterval = 5 * time.Second
	DefaultBufferSize        = 256
)

// Subscriber is one observer's outbound queue.
type Subscriber struct {
	ID string
	ch chan []byte
}

// Messages returns the queue of encoded events. It is closed when the
// subscriber is removed.
func (s *Subscriber) Messages() <-chan []byte {
	return s.ch
}

// Hub is the subscriber registry and broadcaster.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	bufferSize int
	keepalive  time.Duration
	logger     *slog.Logger
}

// Config for creating a Hub.
type Config struct {
	KeepaliveInterval time.Duration // default: 5s
	BufferSize        int           // per-subscriber queue (default: 256)
	Logger            *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	return &Hub{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  buffer,
		keepalive:   keepalive,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and queues a connected event for it.
// After Close, the returned subscriber's queue is already closed.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		ch: make(chan []byte, h.bufferSize),
	}
	connected, _ := json.Marshal(types.Event{Type: types.EventConnected})
	sub.ch <- connected

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subscribers[sub.ID] = sub

	h.logger.Debug("subscriber connected",
		slog.String("id", sub.ID),
		slog.Int("total", len(h.subscribers)),
	)
	return sub
}

// Unsubscribe removes a subscriber. Unknown or already removed IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.ch)
}

// Broadcast encodes ev once and enqueues it to every subscriber without
// blocking. Subscribers that cannot accept it are removed. Returns the number
// of subscribers that received the event.
func (h *Hub) Broadcast(ev types.Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, sub := range h.subscribers {
		select {
		case sub.ch <- data:
			delivered++
		default:
			h.removeLocked(id)
			h.logger.Debug("dropped slow subscriber", slog.String("id", id))
		}
	}
	return delivered
}

// Run emits keepalive events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(types.Event{Type: types.EventKeepalive})
		}
	}
}

// Close removes every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.subscribers {
		h.removeLocked(id)
	}
	h.closed = true
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
