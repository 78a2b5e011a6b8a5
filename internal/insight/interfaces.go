package insight

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// LocalStore is the on-device namespaced key/value store. A missing key is
// reported as None, never as an error.
type LocalStore interface {
	// Get returns the value stored under namespace/key.
	Get(ctx context.Context, namespace, key string) (fn.Option[[]byte],
		error)

	// Put stores value under namespace/key, replacing any previous value.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes namespace/key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, namespace, key string) error
}

// RemoteStore is the shared insight table keyed by (user id, milestone).
type RemoteStore interface {
	// UpsertInsight inserts the record or replaces the row with the same
	// (user id, milestone).
	UpsertInsight(ctx context.Context, rec Record) error

	// InsightByMilestone returns the record for one exact milestone.
	InsightByMilestone(ctx context.Context, userID string,
		milestone int) (fn.Option[Record], error)

	// LatestInsight returns the record with the highest milestone. If
	// maxMilestone is positive, only milestones at or below it are
	// considered.
	LatestInsight(ctx context.Context, userID string,
		maxMilestone int) (fn.Option[Record], error)

	// DeleteInsight removes the record for one milestone.
	DeleteInsight(ctx context.Context, userID string, milestone int) error

	// DeleteUserInsights removes every record of a user.
	DeleteUserInsights(ctx context.Context, userID string) error
}

// Summarizer produces an insight summary from a batch of entries.
type Summarizer interface {
	// Summarize sends the entries to the summarization service. force
	// asks the service to bypass its own response cache.
	Summarize(ctx context.Context, entries []Entry, force bool) (Summary,
		error)
}
