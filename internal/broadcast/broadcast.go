// Package broadcast fans values out to any number of subscribers without
// letting a slow subscriber stall the publisher.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultBuffer = 16

// Subscription is one subscriber's view of a Broadcaster.
type Subscription[T any] struct {
	ID uuid.UUID
	C  <-chan T

	ch      chan T
	dropped atomic.Int64
}

// Dropped returns how many values were discarded because the buffer was full.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Broadcaster delivers every published value to every current subscriber.
// Publish never blocks: a value is dropped for a subscriber whose buffer
// is full.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription[T]
	closed bool
}

// New creates an empty broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uuid.UUID]*Subscription[T])}
}

// Subscribe registers a subscriber with the given channel capacity. The
// channel is closed on Unsubscribe or Close. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *Broadcaster[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	ch := make(chan T, buffer)
	sub := &Subscription[T]{ID: uuid.New(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)
	close(sub.ch)
}

// Publish offers v to every subscriber and returns how many accepted it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
