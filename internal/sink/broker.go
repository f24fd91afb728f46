package sink

import (
	"context"
	"sync"

	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/model"
)

// DefaultBuffer is the per-subscriber queue length used when Subscribe is
// given a non-positive buffer.
const DefaultBuffer = 256

// SubscriberObserver is told the total subscriber count whenever it changes.
// *observability.SimulationCollector satisfies it.
type SubscriberObserver interface {
	SetSubscribers(n int)
}

// Broker fans events out to per-session subscribers. A subscriber whose
// queue is full when an event arrives is considered dead: its channel is
// closed and it is removed.
type Broker struct {
	log      logging.Logger
	observer SubscriberObserver

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan model.SimulationEvent
	total  int
	closed bool
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the logger used for pruning notices.
func WithBrokerLogger(log logging.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithSubscriberObserver reports subscriber counts to o.
func WithSubscriberObserver(o SubscriberObserver) BrokerOption {
	return func(b *Broker) {
		b.observer = o
	}
}

// NewBroker returns an empty Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		log:  logging.Noop(),
		subs: make(map[string]map[uint64]chan model.SimulationEvent),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe attaches a receiver for sessionID. The returned channel is
// closed when cancel is called, when the subscriber is pruned, or when the
// broker is closed. cancel is idempotent.
func (b *Broker) Subscribe(sessionID string, buffer int) (<-chan model.SimulationEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan model.SimulationEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[uint64]chan model.SimulationEvent)
	}
	b.subs[sessionID][id] = ch
	b.total++
	total := b.total
	b.mu.Unlock()

	b.observe(total)
	return ch, func() { b.remove(sessionID, id) }
}

// Publish delivers ev to every subscriber of ev.SessionID without blocking.
func (b *Broker) Publish(ctx context.Context, ev model.SimulationEvent) {
	b.mu.Lock()
	var pruned int
	for id, ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			b.dropLocked(ev.SessionID, id)
			pruned++
		}
	}
	total := b.total
	b.mu.Unlock()

	if pruned > 0 {
		b.log.Warn(ctx, "pruned slow event subscribers",
			logging.SessionID(ev.SessionID),
			logging.Int("pruned", pruned),
		)
		b.observe(total)
	}
}

// SubscriberCount returns the number of subscribers attached to sessionID.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// Total returns the number of subscribers across all sessions.
func (b *Broker) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Close detaches every subscriber and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	for session, subs := range b.subs {
		for id := range subs {
			b.dropLocked(session, id)
		}
	}
	b.mu.Unlock()
	b.observe(0)
}

func (b *Broker) remove(sessionID string, id uint64) {
	b.mu.Lock()
	removed := b.dropLocked(sessionID, id)
	total := b.total
	b.mu.Unlock()
	if removed {
		b.observe(total)
	}
}

func (b *Broker) dropLocked(sessionID string, id uint64) bool {
	subs := b.subs[sessionID]
	ch, ok := subs[id]
	if !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, sessionID)
	}
	close(ch)
	b.total--
	return true
}

func (b *Broker) observe(total int) {
	if b.observer != nil {
		b.observer.SetSubscribers(total)
	}
}
