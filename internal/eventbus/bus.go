// Package eventbus implements the typed pub/sub used to broadcast
// lifecycle events (session mutations, tool start/finish, provider
// retries) to observers: early/priority-ordered handlers plus a bounded
// broadcast channel for streaming observers.
package eventbus

import (
	"sync"

	"github.com/codemesh/codemesh/internal/clog"
	"github.com/codemesh/codemesh/internal/syncutil"
)

// Event is any payload publishable on the bus, keyed by its Type.
type Event interface {
	Type() string
}

// Handler receives a published event. Returning an error is logged but
// never aborts dispatch to the remaining handlers.
type Handler func(Event) error

type subscription struct {
	early    bool
	priority int
	handler  Handler
}

// Bus is a typed pub/sub dispatcher plus a bounded broadcast channel for
// streaming observers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]subscription
	queue    *syncutil.BoundedQueue[Event]
	watchers []chan Event
}

// New builds a Bus whose broadcast channel buffers up to broadcastCap
// events, evicting the oldest once full.
func New(broadcastCap int) *Bus {
	return &Bus{
		subs:  make(map[string][]subscription),
		queue: syncutil.NewBoundedQueue[Event](broadcastCap),
	}
}

// Subscribe registers handler for eventType. early handlers run before
// non-early ones; within the same early-ness, higher priority runs first.
func (b *Bus) Subscribe(eventType string, early bool, priority int, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := append(b.subs[eventType], subscription{early: early, priority: priority, handler: handler})
	sortSubs(subs)
	b.subs[eventType] = subs
}

func sortSubs(subs []subscription) {
	// Stable insertion sort: small N, and preserves relative order of
	// equal (early, priority) pairs — matching "order publish returns".
	for i := 1; i < len(subs); i++ {
		j := i
		for j > 0 && less(subs[j], subs[j-1]) {
			subs[j], subs[j-1] = subs[j-1], subs[j]
			j--
		}
	}
}

func less(a, b subscription) bool {
	if a.early != b.early {
		return a.early // early sorts first
	}
	return a.priority > b.priority // descending priority
}

// Publish invokes every handler registered for event.Type(), in
// early-then-priority order. Handler errors are logged, not propagated.
// Publish also pushes event onto the bounded broadcast queue and fans it
// out to any active Watch channels.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event.Type()]...)
	watchers := append([]chan Event(nil), b.watchers...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(event); err != nil {
			clog.Named("eventbus").Warn("handler error", "event_type", event.Type(), "error", err)
		}
	}

	b.queue.Push(event)
	for _, w := range watchers {
		select {
		case w <- event:
		default:
		}
	}
}

// Watch returns a channel that receives every subsequently published
// event, for streaming observers. The channel has a small buffer; a slow
// reader misses events rather than stalling Publish.
func (b *Bus) Watch() <-chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.watchers = append(b.watchers, ch)
	b.mu.Unlock()
	return ch
}

// Clear removes every subscription and watcher, matching the "clearing
// is supported" requirement.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
	for _, w := range b.watchers {
		close(w)
	}
	b.watchers = nil
}

// Drain returns every event currently buffered in the broadcast queue.
func (b *Bus) Drain() []Event {
	return b.queue.Drain()
}
