package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const (
	// Buffer 2 events per subscriber to avoid blocking the publisher
	subscriberBuffer = 2
	historySize      = 8
)

// Event is the payload published to live consumers for every frame that
// produced detections.
type Event struct {
	SessionID   string            `json:"session_id"`
	Timestamp   time.Time         `json:"timestamp"`
	FrameNumber uint64            `json:"frame_number"`
	Detections  []types.Detection `json:"detections"`
	Labels      []string          `json:"labels"`
}

// Hub fans detection events out to live subscribers and keeps a short
// history for polling clients. Slow subscribers lose events rather than
// stall the detection loop.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	history     []Event // ring, newest last

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe adds a consumer and returns a channel that receives events
// until Unsubscribe.
func (h *Hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[id] = ch

	logger.Debug("Feed", "Client #%d subscribed (total clients: %d)", id, len(h.subscribers))
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
		logger.Debug("Feed", "Client #%d unsubscribed (remaining clients: %d)", id, len(h.subscribers))
	}
}

// Publish delivers the event to every subscriber without blocking and
// appends it to the history ring.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, ev)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Client too slow, skip this event for this client
			h.dropped.Add(1)
		}
	}
}

// Recent returns the retained events, newest first.
func (h *Hub) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, len(h.history))
	for i, ev := range h.history {
		out[len(h.history)-1-i] = ev
	}
	return out
}

// Dropped reports how many events were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
