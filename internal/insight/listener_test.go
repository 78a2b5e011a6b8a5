package insight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/insightd/internal/notify"
)

// flakyFeed fails the first failures subscriptions and then delegates to a
// hub.
type flakyFeed struct {
	mu       sync.Mutex
	failures int
	attempts int
	subs     []*notify.Subscription
	hub      *notify.Hub
}

func (f *flakyFeed) Subscribe(ctx context.Context,
	userID string) (*notify.Subscription, error) {

	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	if fail {
		return nil, errors.New("transport not ready")
	}

	sub, err := f.hub.Subscribe(ctx, userID)
	if err == nil {
		f.mu.Lock()
		f.subs = append(f.subs, sub)
		f.mu.Unlock()
	}

	return sub, err
}

// closeAll ends every subscription handed out so far.
func (f *flakyFeed) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (f *flakyFeed) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}

func newTestListener(t *testing.T, feed notify.Feed) (*SyncListener, *Cache,
	*fakeRemote) {

	t.Helper()

	cfg := DefaultConfig()
	cfg.ResubscribeDelay = 10 * time.Millisecond

	cache, _, remote := newTestCache(t)
	l := NewSyncListener(cfg, cache, feed, nil)
	t.Cleanup(l.Close)

	return l, cache, remote
}

// TestSyncListenerEnsureIdempotent tests that a second Ensure for the same
// user does not start another listener.
func TestSyncListenerEnsureIdempotent(t *testing.T) {
	hub := notify.NewHub(nil)
	l, _, _ := newTestListener(t, hub)

	require.True(t, l.Ensure("alice"))
	require.False(t, l.Ensure("alice"))
	require.True(t, l.Listening("alice"))

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)

	l.Stop("alice")
	require.False(t, l.Listening("alice"))
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Stopping an unknown user is a no-op.
	l.Stop("bob")

	// Listening can be started again after a stop.
	require.True(t, l.Ensure("alice"))
}

// TestSyncListenerRetriesSubscribe tests that a feed that is not ready yet
// is retried until it accepts the subscription.
func TestSyncListenerRetriesSubscribe(t *testing.T) {
	hub := notify.NewHub(nil)
	feed := &flakyFeed{failures: 3, hub: hub}
	l, _, _ := newTestListener(t, feed)

	l.Ensure("alice")

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 4, feed.attemptCount())
}

// TestSyncListenerResubscribes tests that a feed that ends is subscribed
// to again.
func TestSyncListenerResubscribes(t *testing.T) {
	hub := notify.NewHub(nil)
	feed := &flakyFeed{hub: hub}
	l, _, _ := newTestListener(t, feed)

	l.Ensure("alice")
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Ending the subscription from the feed side.
	feed.closeAll()

	require.Eventually(t, func() bool {
		return feed.attemptCount() >= 2 &&
			hub.SubscriberCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSyncListenerRefreshesOnEvent tests that an event triggers a refresh
// that installs a newer remote record, regardless of the event payload.
func TestSyncListenerRefreshesOnEvent(t *testing.T) {
	hub := notify.NewHub(nil)
	l, cache, remote := newTestListener(t, hub)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, makeRecord("alice", 3, time.Hour)))

	l.Ensure("alice")
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)

	newer := makeRecord("alice", 6, 2*time.Hour)
	remote.insert(newer)

	// The payload claims a delete and a wrong milestone; it is ignored.
	hub.Publish(notify.Event{
		UserID: "alice", Kind: notify.KindDelete, Milestone: 99,
	})

	require.Eventually(t, func() bool {
		var ok bool
		cache.Current("alice").WhenSome(func(r Record) {
			ok = r.Milestone == 6
		})

		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSyncListenerDisabled tests that a listener without a feed never
// starts, and that Close prevents new listeners.
func TestSyncListenerDisabled(t *testing.T) {
	l, _, _ := newTestListener(t, nil)
	require.False(t, l.Ensure("alice"))

	l2, _, _ := newTestListener(t, notify.NewHub(nil))
	l2.Close()
	require.False(t, l2.Ensure("alice"))
}
