package progress

import (
	"sync"

	"github.com/cdcmanual/progresskit/pkg/models"
)

// Event names published on the bus. They match the custom events the web
// client dispatches on window, so a DOM adapter can forward them 1:1.
const (
	EventReady  = "cdc-progress-ready"
	EventChange = "cdc-progress-change"
)

// Event is one lifecycle or change notification. Entry is nil for
// lifecycle events and for changes that removed the entry.
type Event struct {
	Name        string
	JourneySlug string
	Entry       *models.ProgressEntry
}

// Listener receives published events. Listeners run synchronously on the
// publisher's goroutine and must not block.
type Listener func(Event)

// Bus is a typed publish/subscribe channel for progress notifications.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns its cancel function.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Publish delivers an event to every listener registered at call time.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}
