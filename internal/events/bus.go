// internal/events/bus.go
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ppp-gateway/internal/supervisor"
)

const (
	busBufferSize        = 1000
	subscriberBufferSize = 100
)

// Bus fans supervisor events out to subscribers. Publish never blocks the
// supervisor loop; events are dropped when the bus or a subscriber is full.
type Bus struct {
	subscribers map[int]*subscription
	nextID      int
	events      chan supervisor.Event
	closing     chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

type subscription struct {
	types map[supervisor.EventType]bool
	ch    chan supervisor.Event
	once  sync.Once
}

func (s *subscription) wants(t supervisor.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[int]*subscription),
		events:      make(chan supervisor.Event, busBufferSize),
		closing:     make(chan struct{}),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Run distributes events until ctx is done or Close is called. After Close
// the queued events are delivered and every subscription channel is closed.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case event := <-b.events:
			b.distribute(event)
		case <-b.closing:
			b.drain()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case event := <-b.events:
			b.distribute(event)
		default:
			b.mutex.Lock()
			for id, sub := range b.subscribers {
				delete(b.subscribers, id)
				sub.close()
			}
			b.mutex.Unlock()
			return
		}
	}
}

// Close stops Run after delivering queued events
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closing) })
}

// Publish implements supervisor.EventSink
func (b *Bus) Publish(event supervisor.Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are given, and a function that cancels the subscription
func (b *Bus) Subscribe(types ...supervisor.EventType) (<-chan supervisor.Event, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	sub := &subscription{
		types: make(map[supervisor.EventType]bool, len(types)),
		ch:    make(chan supervisor.Event, subscriberBufferSize),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub

	cancel := func() {
		b.mutex.Lock()
		delete(b.subscribers, id)
		b.mutex.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// distribute delivers an event to matching subscribers
func (b *Bus) distribute(event supervisor.Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
