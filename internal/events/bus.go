package events

import (
	"sync"
)

const defaultBufSize = 256

// Bus is a channel-based pub-sub event bus. Subscribers register per topic
// or across all topics; publishing never blocks the orchestrator -- a full
// subscriber channel drops the event for that subscriber only.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published to topic.
// bufSize <= 0 selects the default buffer size.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := b.newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := b.newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish delivers event to every subscriber of topic and to all-topic
// subscribers. Non-blocking: slow subscribers miss events rather than
// stalling the publisher.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		trySend(ch, event)
	}
	for _, ch := range b.allSubs {
		trySend(ch, event)
	}
}

// Close shuts the bus down and closes every subscriber channel.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

func (b *Bus) newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}

func trySend(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		// Subscriber is full; drop rather than block.
	}
}
