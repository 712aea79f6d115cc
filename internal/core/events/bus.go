// Package events provides the in-process change-notification bus between the
// backend collection store and the sync reconciler. Notifications carry only
// the collection name, not the delta; consumers react with a full reload.
package events

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// AllCollections subscribes a handler to change notifications for every
// collection.
const AllCollections = "*"

// Handler is invoked per delivered notification with the collection that
// changed. Handlers should be quick or offload heavy work; delivery happens
// in the publisher's goroutine.
type Handler func(collection string) error

// Subscription is a cancellable registration on the bus.
type Subscription interface {
	ID() string
	Collection() string
	IsActive() bool
	Cancel() error
}

type subscription struct {
	id         string
	collection string
	handler    Handler
	active     bool
	cancel     func()
}

func (s *subscription) ID() string          { return s.id }
func (s *subscription) Collection() string  { return s.collection }
func (s *subscription) IsActive() bool      { return s.active }
func (s *subscription) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.active = false
	return nil
}

// Bus is a thread-safe collection-change fan-out.
type Bus struct {
	mu sync.RWMutex
	// handlers: collection -> subID -> subscription
	handlers map[string]map[string]*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]map[string]*subscription),
	}
}

// Subscribe registers a handler for a collection's change notifications.
// Use AllCollections to receive every notification.
func (b *Bus) Subscribe(collection string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("events: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[collection] == nil {
		b.handlers[collection] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, collection: collection, handler: handler, active: true}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.handlers[collection]; ok {
			delete(m, id)
		}
		s.active = false
	}
	b.handlers[collection][id] = s
	return s, nil
}

// Publish delivers a change notification synchronously to the collection's
// subscribers and to wildcard subscribers. Handler errors are joined.
func (b *Bus) Publish(collection string) error {
	b.mu.RLock()
	subs := make([]*subscription, 0, 4)
	for _, s := range b.handlers[collection] {
		subs = append(subs, s)
	}
	if collection != AllCollections {
		for _, s := range b.handlers[AllCollections] {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	var all error
	for _, s := range subs {
		if !s.active {
			continue
		}
		if err := s.handler(collection); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}
