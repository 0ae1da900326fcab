// Package buffer provides the bounded in-memory measurement buffer.
//
// A Buffer starts as an append-only log. Once limit items have been added
// it overflows and from then on behaves as a sliding window of the last
// limit items. The overflow signal recurs every limit additions and is the
// point at which owners flush the batch to storage.
package buffer

import (
	"errors"
	"sync"
)

// ErrInvalidLimit is returned for a non-positive limit.
var ErrInvalidLimit = errors.New("buffer limit must be positive")

// EventKind identifies a buffer notification.
type EventKind int

const (
	Added EventKind = iota + 1
	Removed
	Overflow
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Item is set for Added and Removed;
// Batch holds the items added since the previous overflow for Overflow.
type Event[T any] struct {
	Kind  EventKind
	Item  T
	Batch []T
}

type subscriber[T any] struct {
	id int
	fn func(Event[T])
}

// Buffer is a bounded measurement buffer. It expects a single writer;
// readers get snapshots and may run concurrently with Add.
type Buffer[T any] struct {
	mu         sync.RWMutex
	items      []T
	head       int
	size       int
	counter    *Counter
	overflowed bool

	subs   []subscriber[T]
	nextID int
}

// New creates a buffer holding at most limit items.
func New[T any](limit int) (*Buffer[T], error) {
	counter, err := NewCounter(limit)
	if err != nil {
		return nil, err
	}

	return &Buffer[T]{
		items:   make([]T, limit),
		counter: counter,
	}, nil
}

// Subscribe registers fn for buffer events. The returned function removes
// the subscription. Events are delivered on the writer's goroutine, in
// subscription order, after the buffer lock has been released.
func (b *Buffer[T]) Subscribe(fn func(Event[T])) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Add appends item. After the first overflow the oldest item is evicted
// and a Removed event precedes the Added event.
func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()

	limit := len(b.items)
	events := make([]Event[T], 0, 3)

	if b.overflowed {
		evicted := b.items[b.head]
		b.items[b.head] = item
		b.head = (b.head + 1) % limit
		events = append(events, Event[T]{Kind: Removed, Item: evicted})
	} else {
		b.items[(b.head+b.size)%limit] = item
		b.size++
	}
	events = append(events, Event[T]{Kind: Added, Item: item})

	if b.counter.Inc() {
		b.overflowed = true
		events = append(events, Event[T]{Kind: Overflow, Batch: b.lastLocked(b.size)})
	}

	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}

// Clear empties the buffer and resets the overflow state.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
	b.overflowed = false
	b.counter.Reset()
}

// Window returns the most recent min(Size, Limit) items, oldest first.
func (b *Buffer[T]) Window() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(b.size)
}

// Pending returns the items added since the last overflow, oldest first.
// These are the items no overflow batch has carried yet.
func (b *Buffer[T]) Pending() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(b.counter.Count())
}

// Size returns the number of live items.
func (b *Buffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Limit returns the configured capacity.
func (b *Buffer[T]) Limit() int {
	return len(b.items)
}

// Overflowed reports whether the buffer is in sliding-window mode.
func (b *Buffer[T]) Overflowed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overflowed
}

func (b *Buffer[T]) lastLocked(n int) []T {
	if n > b.size {
		n = b.size
	}

	out := make([]T, n)
	limit := len(b.items)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(start+i)%limit]
	}
	return out
}
