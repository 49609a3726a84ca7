// Package telemetry fans session lifecycle events out to in-process
// consumers such as the event stream endpoint and the session journal.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventSessionCreated     EventType = "session.created"
	EventSessionClosed      EventType = "session.closed"
	EventSessionReady       EventType = "session.ready"
	EventSessionReset       EventType = "session.reset"
	EventVisitRequested     EventType = "visit.requested"
	EventColdBootStarted    EventType = "coldboot.started"
	EventVisitStarted       EventType = "visit.started"
	EventVisitRequestDone   EventType = "visit.request_completed"
	EventVisitRequestFailed EventType = "visit.request_failed"
	EventVisitRendered      EventType = "visit.rendered"
	EventVisitCompleted     EventType = "visit.completed"
	EventVisitProposed      EventType = "visit.proposed"
	EventPageFinished       EventType = "page.finished"
	EventPageInvalidated    EventType = "page.invalidated"
	EventBridgeMissing      EventType = "bridge.missing"
	EventRendererError      EventType = "renderer.error"
	EventProgressShown      EventType = "progress.shown"
	EventProgressHidden     EventType = "progress.hidden"
)

// Event describes session lifecycle telemetry that hosts and journals consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	VisitID   string         `json:"visitId,omitempty"`
	Location  string         `json:"location,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsError reports whether the event represents a failure outcome.
func (e Event) IsError() bool {
	switch e.Type {
	case EventVisitRequestFailed, EventRendererError, EventBridgeMissing:
		return true
	default:
		return false
	}
}

// Publisher accepts telemetry events.
type Publisher interface {
	Publish(event Event)
}

// Filter selects the events a subscriber receives.
type Filter func(Event) bool

// ForSession keeps the events of one session.
func ForSession(id string) Filter {
	return func(e Event) bool { return e.SessionID == id }
}

type subscriber struct {
	ch      chan Event
	filters []Filter
}

func (s *subscriber) wants(e Event) bool {
	for _, f := range s.filters {
		if !f(e) {
			return false
		}
	}
	return true
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event and the hub counts the drop.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
}

const defaultHubBuffer = 64

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return NewHubWithBuffer(defaultHubBuffer)
}

// NewHubWithBuffer constructs a hub whose subscriber channels hold size events.
func NewHubWithBuffer(size int) *Hub {
	if size <= 0 {
		size = defaultHubBuffer
	}
	return &Hub{subscribers: make(map[*subscriber]struct{}), bufferSize: size}
}

// Publish stamps event if needed and offers it to every matching subscriber.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of future events that pass every filter, and
// a func that ends the subscription and closes the channel.
func (h *Hub) Subscribe(filters ...Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	sub := &subscriber{ch: make(chan Event, h.bufferSize), filters: filters}
	h.subscribers[sub] = struct{}{}
	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[sub]; ok {
			delete(h.subscribers, sub)
			close(sub.ch)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, sub)
	}
}
