package display

import (
	"encoding/json"
	"sync"
)

// Display state event kinds published by the render surface.
const (
	StateLocation  = "location"
	StateCursor    = "cursorLocation"
	StateSelection = "selection"
)

// subscriberBufferSize is the channel buffer for each state subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// StateBroker fans display state events (location, cursor position,
// selection) out to subscribers, one topic per event kind. It is safe for
// concurrent use.
//
// Once the broker is closed, late subscribers receive a closed channel
// instead of blocking forever.
type StateBroker struct {
	mu     sync.Mutex
	topics map[string]*stateTopic
	closed bool
}

type stateTopic struct {
	subs   map[int]chan json.RawMessage
	nextID int
}

// NewStateBroker creates a new state broker.
func NewStateBroker() *StateBroker {
	return &StateBroker{
		topics: make(map[string]*stateTopic),
	}
}

// Subscribe returns a channel that receives events of the given kind and an
// unsubscribe function. If the broker is already closed, the returned
// channel is immediately closed.
func (b *StateBroker) Subscribe(kind string) (<-chan json.RawMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan json.RawMessage, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	t, ok := b.topics[kind]
	if !ok {
		t = &stateTopic{subs: make(map[int]chan json.RawMessage)}
		b.topics[kind] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given kind. Events are
// dropped for subscribers whose buffers are full.
func (b *StateBroker) Publish(kind string, value json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	t, ok := b.topics[kind]
	if !ok {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- value:
		default:
			// Drop for slow subscribers to avoid blocking message delivery.
		}
	}
}

// Close shuts the broker down: all subscriber channels are closed and future
// Subscribe calls return a closed channel.
func (b *StateBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, t := range b.topics {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}
