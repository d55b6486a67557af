package stream

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// closer is the type-erased view of a Topic held by the registry.
type closer interface {
	Name() string
	Close()
}

// Registry holds one topic per collection.
type Registry struct {
	buffer int
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]closer
	closed bool
}

// NewRegistry creates an empty registry. buffer is the per-subscriber queue
// length given to every topic it creates.
func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		buffer: buffer,
		logger: logger,
		topics: make(map[string]closer),
	}
}

// TopicFor returns the registry's topic for name, creating it on first use.
// It returns an error if the name is already bound to a different snapshot
// type or the registry is closed.
func TopicFor[T any](r *Registry, name string) (*Topic[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("stream: registry is closed")
	}
	if existing, ok := r.topics[name]; ok {
		topic, ok := existing.(*Topic[T])
		if !ok {
			return nil, fmt.Errorf("stream: topic %q has a different snapshot type", name)
		}
		return topic, nil
	}
	topic := NewTopic[T](name, r.buffer, r.logger.With("component", "stream"))
	r.topics[name] = topic
	return topic, nil
}

// Names returns the registered topic names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every topic and prevents new ones from being created.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, topic := range r.topics {
		topic.Close()
	}
}
