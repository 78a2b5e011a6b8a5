package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()

	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// TestHubSubscribeUnsubscribe tests subscribing and unsubscribing.
func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(nil)

	sub, err := hub.Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID())
	require.Equal(t, 1, hub.SubscriberCount("alice"))

	sub.Close()
	require.Equal(t, 0, hub.SubscriberCount("alice"))
	require.True(t, sub.Closed())

	// Closing twice is fine.
	sub.Close()

	_, ok := <-sub.Events()
	require.False(t, ok)
}

// TestHubPublishFiltersByUser tests that events only reach the subscribers
// of the user they are about.
func TestHubPublishFiltersByUser(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()

	alice1, err := hub.Subscribe(ctx, "alice")
	require.NoError(t, err)
	alice2, err := hub.Subscribe(ctx, "alice")
	require.NoError(t, err)
	bob, err := hub.Subscribe(ctx, "bob")
	require.NoError(t, err)

	hub.Publish(Event{UserID: "alice", Milestone: 6, Kind: KindUpsert})

	require.Equal(t, 6, recvEvent(t, alice1).Milestone)
	require.Equal(t, 6, recvEvent(t, alice2).Milestone)

	select {
	case ev := <-bob.Events():
		t.Fatalf("bob received alice's event: %+v", ev)
	default:
	}
}

// TestHubPublishDoesNotBlock tests that a slow subscriber drops events
// instead of blocking the publisher.
func TestHubPublishDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)

	sub, err := hub.Subscribe(context.Background(), "alice")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultBufferSize*4; i++ {
			hub.Publish(Event{UserID: "alice", Kind: KindUpsert})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	require.Len(t, sub.Events(), DefaultBufferSize)
}

// TestHubContextCancelCloses tests that cancelling the subscribe context
// ends the subscription.
func TestHubContextCancelCloses(t *testing.T) {
	hub := NewHub(nil)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, "alice")
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		return sub.Closed() && hub.SubscriberCount("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestHubClose tests that closing the hub ends every subscription and
// rejects new ones.
func TestHubClose(t *testing.T) {
	hub := NewHub(nil)

	sub, err := hub.Subscribe(context.Background(), "alice")
	require.NoError(t, err)

	hub.Close()
	require.True(t, sub.Closed())

	_, err = hub.Subscribe(context.Background(), "alice")
	require.ErrorIs(t, err, ErrHubClosed)

	_, err = NewHub(nil).Subscribe(context.Background(), "")
	require.Error(t, err)
}
