package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// TypedBus is a type-safe publish/subscribe bus for events of type T.
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the drop is counted.
type TypedBus[T any] struct {
	mu      sync.RWMutex
	subs    []subscription[T]
	closed  bool
	buffer  int
	dropped atomic.Uint64
}

type subscription[T any] struct {
	ch     chan T
	filter func(T) bool
}

// NewTyped creates a new TypedBus with DefaultBuffer.
func NewTyped[T any]() *TypedBus[T] { return NewTypedWithBuffer[T](DefaultBuffer) }

// NewTypedWithBuffer creates a bus whose subscriber channels hold n events.
func NewTypedWithBuffer[T any](n int) *TypedBus[T] {
	if n <= 0 {
		n = DefaultBuffer
	}
	return &TypedBus[T]{buffer: n}
}

// Publish sends the event to all matching subscribers.
func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber receiving every event.
func (b *TypedBus[T]) Subscribe() <-chan T { return b.SubscribeFilter(nil) }

// SubscribeFilter registers a subscriber receiving events accepted by filter.
func (b *TypedBus[T]) SubscribeFilter(filter func(T) bool) <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, subscription[T]{ch: ch, filter: filter})
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(s.ch)
			}
			return
		}
	}
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes the bus and all subscriber channels.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
