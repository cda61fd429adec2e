package store

import (
	"errors"
	"sync"

	"github.com/orderwatch/orderwatch/internal/order"
)

// Notification is one raw change feed item: the operation plus the full
// post-change snapshot (for a delete, the snapshot that was removed).
type Notification struct {
	Operation order.Operation
	Order     *order.Order
}

var (
	// ErrFeedDisabled means the native change feed was turned off by
	// configuration; Watch can never succeed in this process.
	ErrFeedDisabled = errors.New("native change feed is disabled")
	// ErrStreamOverflow means the consumer fell behind and its stream was
	// invalidated. The stream is closed; the consumer must re-attach or fall
	// back to polling.
	ErrStreamOverflow = errors.New("change feed stream overflowed")
)

// feedBufferSize bounds how far a feed consumer may lag before its stream is
// invalidated. The producer never blocks on a slow consumer.
const feedBufferSize = 1024

// Stream is a live handle onto the store's change feed. Events is closed when
// the stream ends; Err reports why, or nil after a consumer-initiated Close.
type Stream interface {
	Events() <-chan Notification
	Err() error
	Close()
}

type FeedStream struct {
	ch     chan Notification
	detach func()

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *FeedStream) Events() <-chan Notification {
	return s.ch
}

func (s *FeedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the stream from the store. Safe to call more than once and
// concurrently with an in-flight publish.
func (s *FeedStream) Close() {
	s.invalidate(nil)
	s.detach()
}

func (s *FeedStream) invalidate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// offer attempts a non-blocking delivery. It reports false when the buffer is
// full; a stream closed by the consumer swallows the notification.
func (s *FeedStream) offer(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- n:
		return true
	default:
		return false
	}
}

// Watch attaches a new stream to the change feed. It fails when the feed is
// disabled by configuration or the store is stopped; both are start-time
// conditions the propagation engine treats as native detection being
// unavailable.
func (m *Manager) Watch() (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if !m.feedEnabled {
		return nil, ErrFeedDisabled
	}

	s := &FeedStream{
		ch: make(chan Notification, feedBufferSize),
	}
	s.detach = func() { m.removeStream(s) }
	m.streams[s] = true
	return s, nil
}

func (m *Manager) removeStream(s *FeedStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, s)
}

// publish fans a notification out to every attached stream. Called with the
// write lock held, so streams see notifications in commit order. A full
// stream is cut off rather than blocking the write path.
func (m *Manager) publish(n Notification) {
	for s := range m.streams {
		if !s.offer(n) {
			s.invalidate(ErrStreamOverflow)
			delete(m.streams, s)
		}
	}
}
