package engine

import (
	"sync"

	"github.com/seantiz/hourglass/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// EventBroker fans out lifecycle events for each operation to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers get a closed
// channel instead of blocking forever. Markers are dropped by Forget once the
// operation leaves the registry.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Snapshot
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives snapshots for the given operation
// on every state change, and an unsubscribe function. If the operation has
// already finished, the returned channel is closed.
func (b *EventBroker) Subscribe(operationID string) (<-chan model.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Snapshot)}
		b.topics[operationID] = t
	}

	ch := make(chan model.Snapshot, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		// An open topic nobody listens to carries no state worth keeping.
		if !t.closed && len(t.subs) == 0 && b.topics[operationID] == t {
			delete(b.topics, operationID)
		}
	}
}

// Publish sends a snapshot to all subscribers of the given operation.
func (b *EventBroker) Publish(operationID string, s model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- s:
		default:
			// Slow subscriber; the runner must not block on it.
		}
	}
}

// Close signals that no more events will be published for the operation.
func (b *EventBroker) Close(operationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		b.topics[operationID] = &eventTopic{subs: make(map[int]chan model.Snapshot), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops the closed marker for an operation, or an open topic with no
// subscribers. Open topics that still have subscribers are kept.
func (b *EventBroker) Forget(operationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[operationID]; ok && (t.closed || len(t.subs) == 0) {
		delete(b.topics, operationID)
	}
}

// Topics returns the number of topics currently tracked.
func (b *EventBroker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
