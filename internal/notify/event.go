// Package notify carries "an insight changed" events between the remote
// insight table and every device that caches it. Events only say that
// something changed for a user; receivers re-read the record themselves.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of change an event reports.
type Kind string

const (
	// KindUpsert is sent after a record was inserted or replaced.
	KindUpsert Kind = "upsert"

	// KindDelete is sent after one or all of a user's records were
	// removed.
	KindDelete Kind = "delete"

	// KindResync is sent by a feed that lost its connection and may
	// have missed events.
	KindResync Kind = "resync"
)

// DefaultBufferSize is the number of undelivered events a subscription
// holds before dropping new ones.
const DefaultBufferSize = 16

// Event reports a change to a user's insight rows.
type Event struct {
	UserID    string    `json:"user_id"`
	Milestone int       `json:"milestone,omitempty"`
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
}

// Publisher accepts change events from the remote store.
type Publisher interface {
	Publish(ev Event)
}

// Feed hands out per-user subscriptions to change events.
type Feed interface {
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
}

// Subscription is a scoped stream of events for one user. The events
// channel is closed once the subscription ends, either through Close or
// because the underlying transport went away.
type Subscription struct {
	id     string
	userID string
	events chan Event

	mu      sync.Mutex
	closed  bool
	onClose func()
	stop    func() bool
}

func newSubscription(userID string, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return &Subscription{
		id:     uuid.Must(uuid.NewV7()).String(),
		userID: userID,
		events: make(chan Event, bufSize),
	}
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string {
	return s.id
}

// UserID returns the user the subscription is filtered to.
func (s *Subscription) UserID() string {
	return s.userID
}

// Events returns the event stream.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// deliver queues an event without blocking. A full buffer drops the event;
// the receiver already has a pending change to act on.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	onClose, stop := s.onClose, s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if onClose != nil {
		onClose()
	}
}

// bindContext closes the subscription once ctx is done.
func (s *Subscription) bindContext(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		return
	}
	s.stop = stop
	s.mu.Unlock()
}

// Closed reports whether the subscription has ended.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
