// Package diagnostics is a small in-process event bus that gives the
// controller's state transitions and the coordinator's stderr lines and
// job lifecycle a single observable sink. The inspector does not publish
// to it, so EventProbeFailed is defined but not emitted. It carries no
// persistence, pagination, or subscription filtering, since this core has
// no database and at most one or two observers (tests, an optional debug
// client).
package diagnostics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// EventType identifies what kind of thing happened.
type EventType string

const (
	EventSessionStateChanged EventType = "session.state_changed"
	EventProbeFailed         EventType = "probe.failed"
	EventProcessingStarted   EventType = "processing.started"
	EventProcessingStderr    EventType = "processing.stderr"
	EventProcessingFailed    EventType = "processing.failed"
	EventProcessingReady     EventType = "processing.ready"
	EventEscalated           EventType = "session.escalated"
)

// Event is one published diagnostic fact.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives published events. It must not block for long; the bus
// calls handlers synchronously from Publish.
type Handler func(Event)

// Bus fans published events out to every registered handler.
type Bus struct {
	logger hclog.Logger

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// New creates a Bus. logger may be nil, in which case publish failures are
// silently dropped (matching the "off unless something is attached" spirit
// of this component).
func New(logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bus{
		logger:   logger.Named("diagnostics"),
		handlers: make(map[int]Handler),
	}
}

// Subscribe registers a handler and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers an event to every current subscriber. Handler panics are
// recovered and logged so one broken observer can't take down the caller.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in diagnostics handler", "event_type", e.Type, "recover", r)
		}
	}()
	h(e)
}

// marshal renders an event as a JSON line for the websocket broadcaster.
func marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
