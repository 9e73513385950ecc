// Package notify fans committed workflow events out to in-process
// subscribers: the background workers and the SSE endpoint listen on the
// same stream. The audit trail does not ride it; the recorder is invoked
// synchronously by the workflow service so no transition is ever dropped.
package notify

import (
	"context"
	"sync"

	"signalo.org/internal/reporting"
)

const defaultBuffer = 64

// Stream is an in-process publish/subscribe hub for workflow events.
// Publishing never blocks: a subscriber that stops draining loses events
// rather than stalling the workflow.
type Stream struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan reporting.Event
	closed bool
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan reporting.Event)}
}

var _ reporting.Notifier = (*Stream)(nil)

// Publish delivers the event to every live subscriber.
func (s *Stream) Publish(evt reporting.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop for it.
		}
	}
}

// Subscribe registers a subscriber whose channel is closed and removed when
// the context ends or the stream closes.
func (s *Stream) Subscribe(ctx context.Context) <-chan reporting.Event {
	ch := make(chan reporting.Event, defaultBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}()
	return ch
}

// Close shuts the stream down and closes every subscriber channel.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
