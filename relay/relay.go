// Package relay fans newly stored chat messages out to the clients that are
// currently watching a thread. Nothing is buffered for absent clients; the
// thread store is the source of truth for catch-up.
package relay

import (
	"sync"

	"github.com/pkg/errors"

	"rentmail/utils"
)

// ErrRelayClosed is returned when subscribing after Shutdown
var ErrRelayClosed = errors.New("relay shut down")

// Subscriber is one open connection interested in a thread
type Subscriber interface {
	// Push delivers an event; it must not block
	Push(Event) error
	// Close releases the connection
	Close()
}

// Relay maps thread ids to their live subscribers
type Relay struct {
	mu      sync.RWMutex
	threads map[string]map[Subscriber]struct{}
	closed  bool
	log     *utils.Logger
}

// New creates an empty relay. A nil logger uses utils.Log.
func New(log *utils.Logger) *Relay {
	if log == nil {
		log = utils.Log
	}
	return &Relay{
		threads: make(map[string]map[Subscriber]struct{}),
		log:     log.WithField("component", "relay"),
	}
}

// Subscribe registers s under threadID
func (r *Relay) Subscribe(threadID string, s Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRelayClosed
	}

	subs, ok := r.threads[threadID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		r.threads[threadID] = subs
	}
	subs[s] = struct{}{}

	r.log.Debug("Subscriber added to thread %s (%d watching)", threadID, len(subs))
	return nil
}

// Unsubscribe removes s from threadID, dropping the entry once it is empty
func (r *Relay) Unsubscribe(threadID string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.threads[threadID]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(r.threads, threadID)
	}

	r.log.Debug("Subscriber removed from thread %s (%d watching)", threadID, len(subs))
}

// Publish pushes event to every subscriber of threadID and returns the
// number of successful deliveries. Publishing to a thread nobody watches
// is a no-op. Failed pushes are logged and never reach the caller.
func (r *Relay) Publish(threadID, event string, payload interface{}) int {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.threads[threadID]))
	for s := range r.threads[threadID] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	if len(subs) == 0 {
		return 0
	}

	e, err := NewEvent(event, payload)
	if err != nil {
		r.log.Error("Dropping %s event for thread %s: %v", event, threadID, err)
		return 0
	}

	delivered := 0
	for _, s := range subs {
		if err := push(s, e); err != nil {
			r.log.Warn("Push to subscriber of thread %s failed: %v", threadID, err)
			continue
		}
		delivered++
	}

	r.log.Debug("Published %s to %d/%d subscribers of thread %s", event, delivered, len(subs), threadID)
	return delivered
}

// push contains a misbehaving subscriber
func push(s Subscriber, e Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("subscriber panicked: %v", rec)
		}
	}()
	return s.Push(e)
}

// Subscribers returns how many connections watch threadID
func (r *Relay) Subscribers(threadID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads[threadID])
}

// Total returns the number of subscribers across all threads
func (r *Relay) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.threads {
		n += len(subs)
	}
	return n
}

// Shutdown closes every subscriber and refuses new ones
func (r *Relay) Shutdown() {
	r.mu.Lock()
	r.closed = true
	var subs []Subscriber
	for _, set := range r.threads {
		for s := range set {
			subs = append(subs, s)
		}
	}
	r.threads = make(map[string]map[Subscriber]struct{})
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	r.log.Info("Relay shut down, closed %d subscribers", len(subs))
}
