package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 100

// Broadcaster fans changes out to in-process subscribers such as the
// server-sent event stream. Slow subscribers miss changes rather than block
// ingestion.
type Broadcaster struct {
	subscribers map[uint64]chan Change
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Change),
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan Change) {
	id := b.nextID.Add(1)
	ch := make(chan Change, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(_ context.Context, changes []Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range changes {
		for _, ch := range b.subscribers {
			select {
			case ch <- c:
			default:
				// Skip slow subscribers
			}
		}
	}
	return nil
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, changes []Change) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, changes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
