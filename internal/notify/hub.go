package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("notification hub closed")

// Hub is the in-process change feed. The remote store publishes into it
// and local listeners, as well as the realtime endpoint, subscribe to it.
//
// The hub maps user ids to their subscribers. Delivery never blocks the
// publisher: a subscriber with a full buffer misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	closed bool

	bufSize int
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}

	return &Hub{
		subs:    make(map[string]map[string]*Subscription),
		bufSize: DefaultBufferSize,
		log:     log.With("component", "notify_hub"),
	}
}

// Publish delivers the event to every subscriber of its user.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, s := range h.subs[ev.UserID] {
		if s.deliver(ev) {
			delivered++
		}
	}

	h.log.Debug("Change published",
		"user_id", ev.UserID, "kind", ev.Kind,
		"milestone", ev.Milestone, "delivered", delivered,
	)
}

// Subscribe registers a subscriber for one user. The subscription is closed
// when ctx is done or when Close is called on it.
func (h *Hub) Subscribe(ctx context.Context,
	userID string) (*Subscription, error) {

	if userID == "" {
		return nil, errors.New("subscribe: empty user id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(userID, h.bufSize)
	sub.onClose = func() {
		h.remove(sub)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]*Subscription)
	}
	h.subs[userID][sub.id] = sub
	h.mu.Unlock()

	sub.bindContext(ctx)

	return sub, nil
}

// remove drops a subscriber. Removing an unknown subscriber is a no-op.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	users, ok := h.subs[sub.userID]
	if !ok {
		return
	}

	delete(users, sub.id)
	if len(users) == 0 {
		delete(h.subs, sub.userID)
	}
}

// SubscriberCount returns the number of active subscribers for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs[userID])
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true

	var all []*Subscription
	for _, users := range h.subs {
		for _, s := range users {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
