// Package bus implements the micro-runtime's topic pub/sub event bus:
// fire-and-forget fan-out that never blocks a publisher on a slow or
// failing subscriber, grounded on bus.py.
package bus

import "sync"

// Handler receives a topic and its payload. Panics inside a handler
// are recovered by the bus and never propagate to the publisher.
type Handler func(topic string, payload any)

// Bus is a topic-keyed subscriber registry with async fan-out
// publish, grounded on EventBus in bus.py.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers handler for topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
}

// Publish snapshots the current subscriber list for topic and fans
// the payload out to each handler on its own goroutine, never
// blocking the caller and never letting a handler panic escape.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.Unlock()
	for _, h := range handlers {
		go func(h Handler) {
			defer func() { _ = recover() }()
			h(topic, payload)
		}(h)
	}
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default returns the process-wide shared bus, creating it on first
// use, grounded on get_bus in bus.py.
func Default() *Bus {
	defaultBusOnce.Do(func() { defaultBus = New() })
	return defaultBus
}
