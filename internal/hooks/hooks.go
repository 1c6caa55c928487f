// Package hooks lets other components observe conversation lifecycle events
// without the conversation entity knowing about them.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/chatterbox/internal/logging"
)

// Event names a lifecycle point.
type Event string

// Event names for the hook system.
const (
	EventTurnStart      Event = "turn.start"
	EventTurnComplete   Event = "turn.complete"
	EventTurnError      Event = "turn.error"
	EventHistoryCleared Event = "history.cleared"
	EventServerStart    Event = "server.start"
	EventServerStop     Event = "server.stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []Event{
	EventTurnStart,
	EventTurnComplete,
	EventTurnError,
	EventHistoryCleared,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to hook handlers. ConversationID is empty for
// events that are not tied to one conversation.
type Payload struct {
	Event          Event          `json:"event"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Handler handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager holds hook registrations and dispatches events. A nil *Manager
// accepts emits and drops them.
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[Event][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and for Off.
func (m *Manager) On(event Event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", string(event)).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event Event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
}

func (m *Manager) snapshot(event Event) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

// Emit dispatches p to all handlers for p.Event synchronously, in
// registration order. Errors are logged and do not stop later handlers.
func (m *Manager) Emit(ctx context.Context, p Payload) {
	if m == nil {
		return
	}
	for _, h := range m.snapshot(p.Event) {
		m.run(ctx, h, p)
	}
}

// EmitAsync dispatches p to all handlers concurrently and returns
// immediately. Use Wait to block until they finish.
func (m *Manager) EmitAsync(ctx context.Context, p Payload) {
	if m == nil {
		return
	}
	for _, h := range m.snapshot(p.Event) {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.run(ctx, h, p)
		}()
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.inflight.Wait()
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", string(p.Event)).
			Str("handler", h.name).
			Str("conversation_id", p.ConversationID).
			Msg("hook handler error")
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event Event) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events that have at least one handler registered.
func (m *Manager) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]Event, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	return events
}
