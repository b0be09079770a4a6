package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/collectd-listener/internal/metrics"
	"github.com/skypro1111/collectd-listener/internal/protocol"
)

// Type names an event
type Type string

// Event types
const (
	TypeData  Type = "data"  // a datagram decoded successfully
	TypeError Type = "error" // a datagram was rejected by the decoder
	TypeStart Type = "start" // the listener started
	TypeClose Type = "close" // the listener stopped
)

// Event is delivered to every subscriber.
// Packet is shared between subscribers and must be treated as read-only.
type Event struct {
	Type      Type             `json:"type"`
	Time      time.Time        `json:"time"`
	Source    string           `json:"source,omitempty"`
	Packet    *protocol.Packet `json:"packet,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
}

// Subscription receives events on C until it is unsubscribed or the hub closes
type Subscription struct {
	C <-chan Event

	id      uint64
	ch      chan Event
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because C was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub broadcasts events to subscribers without blocking the publisher
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
// m may be nil.
func NewHub(buffer int, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		logger:  logger,
		metrics: m,
		buffer:  buffer,
		subs:    make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return sub
	}

	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub

	h.logger.Debug("Event subscriber added", slog.Uint64("subscriber_id", sub.id))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)

	h.logger.Debug("Event subscriber removed",
		slog.Uint64("subscriber_id", sub.id),
		slog.Uint64("dropped", sub.Dropped()),
	)
}

// Publish delivers e to every subscriber with room in its buffer and
// returns the number of subscribers that received it
func (h *Hub) Publish(e Event) int {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}

	delivered := 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- e:
			delivered++
		default:
			sub.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.RecordEventDropped()
			}
		}
	}

	if h.metrics != nil {
		h.metrics.RecordEventPublished(string(e.Type))
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription; later publishes are discarded
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
