package stream

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 16

// Topic broadcasts full snapshots of one collection.
type Topic[T any] struct {
	name   string
	buffer int
	logger *slog.Logger

	mu        sync.Mutex
	latest    []T
	published bool
	closed    bool
	subs      map[string]*Subscription[T]
}

// NewTopic creates a topic. A buffer below 1 uses DefaultBuffer.
func NewTopic[T any](name string, buffer int, logger *slog.Logger) *Topic[T] {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{
		name:   name,
		buffer: buffer,
		logger: logger,
		subs:   make(map[string]*Subscription[T]),
	}
}

// Name returns the collection name the topic serves.
func (t *Topic[T]) Name() string { return t.name }

// Publish replaces the latest snapshot and delivers a copy to every
// subscriber. It is a no-op on a closed topic.
func (t *Topic[T]) Publish(snapshot []T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.latest = clone(snapshot)
	t.published = true
	for _, sub := range t.subs {
		sub.deliver(clone(snapshot))
	}
}

// Latest returns a copy of the most recent snapshot and whether one has been
// published.
func (t *Topic[T]) Latest() ([]T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.published {
		return nil, false
	}
	return clone(t.latest), true
}

// Subscribers returns the number of open subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Subscribe opens a subscription. The latest snapshot, if any, is queued
// first. The subscription ends when ctx is done, when Close is called on it,
// or when the topic closes; its channel is then closed.
func (t *Topic[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{
		id:    uuid.NewString(),
		topic: t,
		ch:    make(chan []T, t.buffer),
		done:  make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.finish()
		return sub
	}
	if t.published {
		sub.deliver(clone(t.latest))
	}
	t.subs[sub.id] = sub
	t.mu.Unlock()

	t.logger.Debug("subscribed", "collection", t.name, "subscription", sub.id)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Close ends every subscription. Later publishes are ignored and later
// subscriptions are returned already closed.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		delete(t.subs, id)
		sub.finish()
	}
}

func (t *Topic[T]) remove(sub *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[sub.id]; !ok {
		return
	}
	delete(t.subs, sub.id)
	sub.finish()
	t.logger.Debug("unsubscribed", "collection", t.name, "subscription", sub.id, "dropped", sub.Dropped())
}

// Subscription is one consumer's view of a topic.
type Subscription[T any] struct {
	id      string
	topic   *Topic[T]
	ch      chan []T
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// ID returns the subscription's unique id.
func (s *Subscription[T]) ID() string { return s.id }

// C returns the channel of snapshots. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan []T { return s.ch }

// Dropped returns how many snapshots were discarded because the consumer
// fell behind.
func (s *Subscription[T]) Dropped() int64 { return s.dropped.Load() }

// Close ends the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.topic.remove(s)
}

// deliver queues a snapshot, dropping the oldest queued one when full.
// Callers hold the topic lock, which makes the topic the only sender.
func (s *Subscription[T]) deliver(snapshot []T) {
	for {
		select {
		case s.ch <- snapshot:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// finish closes the channel once. Callers hold the topic lock.
func (s *Subscription[T]) finish() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// clone copies a snapshot so consumers never share backing arrays with the
// topic or with each other. A nil snapshot becomes an empty one.
func clone[T any](snapshot []T) []T {
	if snapshot == nil {
		return []T{}
	}
	return slices.Clone(snapshot)
}
