package turn

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed indicates the stream's producer finished the turn.
var ErrStreamClosed = errors.New("event stream closed")

// Stream is a strictly ordered queue of progress events for one turn. The
// orchestrator is the sole producer and the connection handler the sole
// consumer; events come out exactly once, in publication order.
type Stream struct {
	mu     sync.Mutex
	events []Event
	closed bool
	notify chan struct{}
}

// NewStream returns an empty open stream.
func NewStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

// Publish appends an event to the stream. Events published after Close are
// dropped.
func (s *Stream) Publish(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.wake()
}

// Next returns the oldest unread event, waiting until one is published, the
// stream closes, or the context ends. A closed stream drains its remaining
// events before reporting ErrStreamClosed.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.events) > 0 {
			event := s.events[0]
			s.events = s.events[1:]
			s.mu.Unlock()
			return event, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Event{}, ErrStreamClosed
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close marks the stream finished. Close is idempotent and leaves already
// published events readable.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
