package events

import (
	"sync"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 64

// Hub fans session events out to in-process subscribers. Slow subscribers
// lose events instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[domain.SessionID]map[uint64]chan domain.SessionEvent
	nextID uint64
	buffer int
	logger *zap.SugaredLogger
}

func NewHub(buffer int, logger *zap.SugaredLogger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[domain.SessionID]map[uint64]chan domain.SessionEvent),
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Publish(event domain.SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			h.logger.Debugw("Dropped session event for slow subscriber",
				"session_id", event.SessionID,
				"subscriber", id,
				"type", event.Type,
			)
		}
	}
}

// Subscribe returns a channel of events for one session and a cancel func
// that closes it. Cancel is safe to call more than once.
func (h *Hub) Subscribe(sessionID domain.SessionID) (<-chan domain.SessionEvent, func()) {
	ch := make(chan domain.SessionEvent, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]chan domain.SessionEvent)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount reports the live subscriptions for a session.
func (h *Hub) SubscriberCount(sessionID domain.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Fanout publishes every event to each publisher in order.
type Fanout []ports.SessionEventPublisher

func (f Fanout) Publish(event domain.SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, p := range f {
		p.Publish(event)
	}
}
