package subscribe

import (
	"sync"
	"sync/atomic"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

const defaultStreamBuffer = 256

// Stream is a bounded, lazy sequence of events matching a filter. It
// implements ledger.EventStream.
type Stream struct {
	registry *Registry
	id       string
	filter   ledger.EventFilter
	ch       chan ledger.ChainEvent

	// mu serializes offers against close so a late fan-out never sends on a
	// closed channel.
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

var _ ledger.EventStream = (*Stream)(nil)

// ID returns the subscription id backing this stream.
func (s *Stream) ID() string { return s.id }

// Events returns the delivery channel. It is closed when the stream closes.
func (s *Stream) Events() <-chan ledger.ChainEvent { return s.ch }

// Close detaches the stream from the registry and closes the channel.
func (s *Stream) Close() {
	s.registry.Unsubscribe(s.id)
}

// Dropped returns the number of events discarded because the buffer was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// offer attempts a non-blocking delivery. A full buffer drops the event so a
// slow consumer never stalls the poller.
func (s *Stream) offer(event ledger.ChainEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Stream) closeCh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
