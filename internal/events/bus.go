package events

import (
	"log/slog"
	"sync"
)

const defaultBuffer = 256

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ev Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
	closed bool
}

// NewBus creates a bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Subscription is an explicit handle on a stream of events. Close it when
// done; C is closed afterwards.
type Subscription struct {
	C <-chan Event

	ch         chan Event
	decisionID string
	bus        *Bus
	once       sync.Once
}

// Subscribe returns a subscription to the events of decisionID, or to every
// event when decisionID is empty.
func (b *Bus) Subscribe(decisionID string) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, decisionID: decisionID, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Close detaches the subscription and closes its channel. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	})
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.decisionID != "" && s.decisionID != ev.DecisionID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("events: subscriber buffer full, dropping event", "type", ev.Type, "decision_id", ev.DecisionID)
		}
	}
}

// Close detaches every subscriber and rejects future subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Func adapts a function to Publisher.
type Func func(Event)

// Publish calls f(ev).
func (f Func) Publish(ev Event) { f(ev) }

// Discard is a Publisher that drops everything.
var Discard Publisher = Func(func(Event) {})
