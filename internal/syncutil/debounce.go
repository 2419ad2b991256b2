package syncutil

import (
	"sync"
	"time"
)

// debounceBuffer holds pending items for one key and their flush timer.
type debounceBuffer[T any] struct {
	items []T
	timer *time.Timer
}

// Debouncer batches items by key and flushes them as a group after a
// quiet period, or immediately when ShouldDebounce rejects an item.
// Adapted from the corpus's inbound-message debouncer, generalized past
// a single "channel" key.
type Debouncer[T any] struct {
	mu      sync.Mutex
	buffers map[string]*debounceBuffer[T]
	stopped bool

	delay          time.Duration
	buildKey       func(item T) string
	shouldDebounce func(item T) bool
	onFlush        func(items []T)
}

// DebouncerOption configures a Debouncer at construction time.
type DebouncerOption[T any] func(*Debouncer[T])

// WithDelay sets the quiet-period duration before a buffer auto-flushes.
func WithDelay[T any](d time.Duration) DebouncerOption[T] {
	return func(deb *Debouncer[T]) {
		if d < 0 {
			d = 0
		}
		deb.delay = d
	}
}

// WithBuildKey sets the grouping-key function. Items sharing a key are
// flushed together.
func WithBuildKey[T any](fn func(item T) string) DebouncerOption[T] {
	return func(deb *Debouncer[T]) { deb.buildKey = fn }
}

// WithShouldDebounce sets a predicate; when it returns false for an item,
// that item (and any buffer already pending for its key) flushes
// immediately instead of waiting out the delay.
func WithShouldDebounce[T any](fn func(item T) bool) DebouncerOption[T] {
	return func(deb *Debouncer[T]) { deb.shouldDebounce = fn }
}

// WithOnFlush sets the callback invoked with a batch of items once a
// buffer flushes, whether by timer or immediately.
func WithOnFlush[T any](fn func(items []T)) DebouncerOption[T] {
	return func(deb *Debouncer[T]) { deb.onFlush = fn }
}

// NewDebouncer builds a Debouncer with the given options.
func NewDebouncer[T any](opts ...DebouncerOption[T]) *Debouncer[T] {
	d := &Debouncer[T]{buffers: make(map[string]*debounceBuffer[T])}
	for _, opt := range opts {
		opt(d)
	}
	if d.buildKey == nil {
		d.buildKey = func(T) string { return "default" }
	}
	if d.onFlush == nil {
		d.onFlush = func([]T) {}
	}
	return d
}

// Enqueue adds an item, flushing immediately if debouncing is disabled
// (delay == 0) or ShouldDebounce rejects the item.
func (d *Debouncer[T]) Enqueue(item T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	key := d.buildKey(item)
	canDebounce := d.delay > 0 && (d.shouldDebounce == nil || d.shouldDebounce(item))

	if !canDebounce {
		if buf, ok := d.buffers[key]; ok {
			d.flushLocked(key, buf)
		}
		d.mu.Unlock()
		d.onFlush([]T{item})
		return
	}

	if buf, ok := d.buffers[key]; ok {
		buf.items = append(buf.items, item)
		buf.timer.Stop()
		buf.timer = time.AfterFunc(d.delay, func() { d.flushKey(key) })
		d.mu.Unlock()
		return
	}

	buf := &debounceBuffer[T]{items: []T{item}}
	buf.timer = time.AfterFunc(d.delay, func() { d.flushKey(key) })
	d.buffers[key] = buf
	d.mu.Unlock()
}

// FlushKey flushes any pending items for key immediately.
func (d *Debouncer[T]) FlushKey(key string) {
	d.flushKey(key)
}

func (d *Debouncer[T]) flushKey(key string) {
	d.mu.Lock()
	buf, ok := d.buffers[key]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	d.flushLocked(key, buf)
	d.mu.Unlock()
}

// flushLocked removes the buffer for key and invokes onFlush. Must be
// called with d.mu held; onFlush itself runs outside the lock.
func (d *Debouncer[T]) flushLocked(key string, buf *debounceBuffer[T]) {
	delete(d.buffers, key)
	buf.timer.Stop()
	items := buf.items
	if len(items) == 0 {
		return
	}
	d.mu.Unlock()
	d.onFlush(items)
	d.mu.Lock()
}

// Stop cancels all pending timers and rejects further Enqueue calls.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, buf := range d.buffers {
		buf.timer.Stop()
		delete(d.buffers, key)
	}
}

// Pending reports how many keys currently hold buffered items.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}
