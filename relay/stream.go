package relay

import (
	"bufio"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrStreamFull is returned when a slow client has not drained its queue
	ErrStreamFull = errors.New("stream queue full")
	// ErrStreamClosed is returned when pushing to a closed stream
	ErrStreamClosed = errors.New("stream closed")
)

// DefaultQueueSize bounds the events waiting on one connection
const DefaultQueueSize = 16

// DefaultKeepAlive is the interval between ping events on an idle stream
const DefaultKeepAlive = 25 * time.Second

// Stream is the Subscriber behind one open client connection
type Stream struct {
	id     string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

var _ Subscriber = &Stream{}

// NewStream creates a stream with the given queue size
func NewStream(queueSize int) *Stream {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Stream{
		id:     uuid.NewString(),
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

// ID identifies the stream in logs
func (s *Stream) ID() string {
	return s.id
}

// Push queues an event without blocking the publisher
func (s *Stream) Push(e Event) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return ErrStreamClosed
	default:
		return ErrStreamFull
	}
}

// Close stops the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Events returns the queue of pending events
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once the stream is closed
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// ServeSSE writes the stream to w until the client goes away, the stream is
// closed or shutdown fires. A write or flush error means the client
// disconnected and is returned as is.
func (s *Stream) ServeSSE(w *bufio.Writer, keepAlive time.Duration, shutdown <-chan struct{}) error {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	if _, err := w.WriteString(": connected\n\n"); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e := <-s.events:
			if _, err := e.WriteTo(w); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}

		case <-ticker.C:
			if _, err := pingEvent.WriteTo(w); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}

		case <-s.done:
			return nil

		case <-shutdown:
			return nil
		}
	}
}
