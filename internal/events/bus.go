package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// Bus fans events out to subscribers. Publishers hand over the event
// alone; routing follows the topic the event itself carries. Sends
// never block: a subscriber that falls behind loses events instead of
// stalling the worker loops, and the bus counts what it sheds.
type Bus struct {
	mu      sync.RWMutex
	byTopic map[Topic][]chan Event
	all     []chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{byTopic: make(map[Topic][]chan Event)}
}

// Subscribe returns a channel delivering every event published on one
// topic. The channel is closed when the bus closes; subscribing to a
// closed bus yields an already-closed channel.
func (b *Bus) Subscribe(topic Topic, bufSize int) <-chan Event {
	ch := newSubChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.byTopic[topic] = append(b.byTopic[topic], ch)
	return ch
}

// SubscribeAll returns a channel delivering events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newSubChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

func newSubChan(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return make(chan Event, bufSize)
}

// Publish delivers the event to its topic's subscribers and every
// firehose subscriber. Publishing to a closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.deliver(b.byTopic[event.Topic()], event)
	b.deliver(b.all, event)
}

func (b *Bus) deliver(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were shed because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.byTopic {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
