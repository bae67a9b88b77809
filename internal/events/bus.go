// Package events provides a synchronous publish/subscribe registry for the
// sync core's observable events: conflicts awaiting manual resolution,
// connectivity transitions, and completed sync cycles.
package events

import (
	"log"
	"os"
	"sync"
)

// Event kinds published by the sync core.
const (
	// KindConflict carries a *schema.ConflictRecord. Published only under
	// the manual conflict policy.
	KindConflict = "conflict"
	// KindOnline and KindOffline mark connectivity transitions.
	KindOnline  = "online"
	KindOffline = "offline"
	// KindSyncComplete is published after each finished sync cycle.
	KindSyncComplete = "sync_complete"
)

// Handler receives a published event payload.
type Handler func(payload interface{})

// Bus fans events out to subscribers synchronously. A panicking subscriber
// is recovered and logged per-subscriber so one failing observer cannot
// block the others.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	logger   *log.Logger
}

// NewBus creates an event bus. If logger is nil, a default logger writing to
// stderr is used.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event kind. Handlers are invoked in
// subscription order.
func (b *Bus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers the payload to every subscriber of the kind.
func (b *Bus) Publish(kind string, payload interface{}) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(kind, h, payload)
	}
}

func (b *Bus) dispatch(kind string, h Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Subscriber panic on %s event: %v", kind, r)
		}
	}()
	h(payload)
}
