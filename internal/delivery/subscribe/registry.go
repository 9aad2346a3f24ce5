// Package subscribe provides the subscriber registry for ledger events:
// callback registration per event type (plus a wildcard) and bounded
// channel-based streams, both fed by the adapter's event poller.
package subscribe

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

type entry struct {
	id        string
	eventType string
	fn        ledger.EventCallback
	stream    *Stream
}

// Registry owns subscription state for a single adapter instance. Multiple
// adapters (one per ledger) each get their own registry, so subscription
// state is never shared across ledgers.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	// byType preserves registration order per event type so fan-out to
	// callbacks is deterministic.
	byType map[string][]*entry

	delivered uint64
	dropped   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "subscriber-registry"),
		entries: make(map[string]*entry),
		byType:  make(map[string][]*entry),
	}
}

// Subscribe registers a callback under an event type or ledger.Wildcard and
// returns the subscription id.
func (r *Registry) Subscribe(eventType string, fn ledger.EventCallback) string {
	e := &entry{
		id:        uuid.NewString(),
		eventType: eventType,
		fn:        fn,
	}

	r.mu.Lock()
	r.entries[e.id] = e
	r.byType[eventType] = append(r.byType[eventType], e)
	r.mu.Unlock()

	r.logger.Debug("subscription added", "id", e.id, "event_type", eventType)
	return e.id
}

// SubscribeStream registers a filter-based stream subscription. Events
// emitted before the call are not replayed. When the buffer is full new
// events are dropped and counted rather than blocking the poller.
func (r *Registry) SubscribeStream(filter ledger.EventFilter, buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	s := &Stream{
		registry: r,
		filter:   filter,
		ch:       make(chan ledger.ChainEvent, buffer),
	}
	e := &entry{
		id:        uuid.NewString(),
		eventType: ledger.Wildcard,
		stream:    s,
	}
	s.id = e.id

	r.mu.Lock()
	r.entries[e.id] = e
	r.byType[ledger.Wildcard] = append(r.byType[ledger.Wildcard], e)
	r.mu.Unlock()

	r.logger.Debug("stream subscription added", "id", e.id, "buffer", buffer)
	return s
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		list := r.byType[e.eventType]
		for i, cand := range list {
			if cand.id == id {
				r.byType[e.eventType] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok && e.stream != nil {
		e.stream.closeCh()
	}
	if ok {
		r.logger.Debug("subscription removed", "id", id)
	}
}

// Notify fans a mapped event out to callbacks registered under its specific
// type and under the wildcard. Delivery is synchronous so successive events
// reach each subscriber in block-then-log order; relative order across
// subscribers for one event is unspecified.
func (r *Registry) Notify(event ledger.ChainEvent) {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.byType[event.Type])+len(r.byType[ledger.Wildcard]))
	targets = append(targets, r.byType[event.Type]...)
	if event.Type != ledger.Wildcard {
		targets = append(targets, r.byType[ledger.Wildcard]...)
	}
	r.mu.RUnlock()

	for _, e := range targets {
		if e.stream != nil {
			if !e.stream.filter.Matches(event) {
				continue
			}
			if !e.stream.offer(event) {
				r.mu.Lock()
				r.dropped++
				r.mu.Unlock()
				r.logger.Warn("stream buffer full, dropping event",
					"subscription_id", e.id,
					"event_id", event.EventID,
				)
			}
			continue
		}
		e.fn(event)
	}

	r.mu.Lock()
	r.delivered++
	r.mu.Unlock()
}

// Count returns the number of active subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats reports delivery counters.
func (r *Registry) Stats() (delivered, dropped uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.delivered, r.dropped
}
