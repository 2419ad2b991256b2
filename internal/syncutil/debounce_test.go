package syncutil

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerBatchesByKey(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]string

	d := NewDebouncer(
		WithDelay[string](20*time.Millisecond),
		WithBuildKey(func(s string) string { return s[:1] }),
		WithOnFlush(func(items []string) {
			mu.Lock()
			defer mu.Unlock()
			flushed = append(flushed, items)
		}),
	)

	d.Enqueue("a1")
	d.Enqueue("a2")
	d.Enqueue("b1")

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 2 {
		t.Fatalf("expected 2 flush batches (one per key), got %d: %v", len(flushed), flushed)
	}
}

func TestDebouncerShouldDebounceFalseFlushesImmediately(t *testing.T) {
	flushedCh := make(chan []int, 4)
	d := NewDebouncer(
		WithDelay[int](time.Hour),
		WithShouldDebounce(func(i int) bool { return i%2 == 0 }),
		WithOnFlush(func(items []int) { flushedCh <- items }),
	)

	d.Enqueue(3) // odd -> immediate

	select {
	case items := <-flushedCh:
		if len(items) != 1 || items[0] != 3 {
			t.Fatalf("unexpected immediate flush: %v", items)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate flush for non-debounceable item")
	}
}

func TestDebouncerStopPreventsFurtherFlush(t *testing.T) {
	d := NewDebouncer(WithDelay[int](5 * time.Millisecond))
	d.Stop()
	d.Enqueue(1)
	if d.Pending() != 0 {
		t.Fatalf("expected no pending items after Stop")
	}
}
