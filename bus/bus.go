// Package bus is the in-process listener registry that fans realtime events
// out to UI consumers.
package bus

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives one event. Handlers run synchronously on the publisher's
// goroutine, in subscription order.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Registry is the listener registry. A panicking handler is recovered and
// logged; the remaining handlers still run. Publish iterates a snapshot, so a
// handler may unsubscribe itself (or anyone else) mid-dispatch.
type Registry struct {
	mu     sync.Mutex
	subs   map[Kind][]subscription
	next   int
	logger *zap.Logger
}

// New creates a registry. logger may be nil.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		subs:   make(map[Kind][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event kind and returns an unsubscribe
// function. Unsubscribing twice is safe.
func (r *Registry) Subscribe(k Kind, h Handler) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[k] = append(r.subs[k], subscription{id: id, fn: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[k]
		for i, s := range list {
			if s.id == id {
				r.subs[k] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every handler subscribed to its kind, exactly
// once each, in subscription order.
func (r *Registry) Publish(e Event) {
	r.mu.Lock()
	list := r.subs[e.Kind()]
	snapshot := make([]subscription, len(list))
	copy(snapshot, list)
	r.mu.Unlock()

	for _, s := range snapshot {
		r.dispatch(s, e)
	}
}

func (r *Registry) dispatch(s subscription, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				zap.String("kind", string(e.Kind())),
				zap.Int("subscription", s.id),
				zap.Any("panic", rec))
		}
	}()
	s.fn(e)
}
