package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/insightd/internal/insight"
	"github.com/roasbeef/insightd/internal/notify"
)

// MockStore is an in-memory Storage. It follows the same row semantics as
// SqlcStore and is used by tests and the --remote=memory mode.
type MockStore struct {
	mu sync.RWMutex

	// rows is keyed by user and then milestone.
	rows map[string]map[int]insight.Record

	pub notify.Publisher
}

var _ Storage = (*MockStore)(nil)

// NewMockStore creates an empty in-memory store. pub may be nil.
func NewMockStore(pub notify.Publisher) *MockStore {
	return &MockStore{
		rows: make(map[string]map[int]insight.Record),
		pub:  pub,
	}
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// UpsertInsight stores the record under its milestone.
func (m *MockStore) UpsertInsight(_ context.Context, rec insight.Record) error {
	if err := validateKey(rec.UserID, rec.Milestone); err != nil {
		return err
	}

	m.mu.Lock()
	user, ok := m.rows[rec.UserID]
	if !ok {
		user = make(map[int]insight.Record)
		m.rows[rec.UserID] = user
	}
	user[rec.Milestone] = copyRecord(rec)
	m.mu.Unlock()

	m.publish(notify.Event{
		UserID:    rec.UserID,
		Milestone: rec.Milestone,
		Kind:      notify.KindUpsert,
	})

	return nil
}

// InsightByMilestone returns the record for one exact milestone.
func (m *MockStore) InsightByMilestone(_ context.Context, userID string,
	milestone int) (fn.Option[insight.Record], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rows[userID][milestone]
	if !ok {
		return fn.None[insight.Record](), nil
	}

	return fn.Some(copyRecord(rec)), nil
}

// LatestInsight returns the highest milestone, at or below maxMilestone when
// it is positive. Ties on milestone cannot happen since it is the key.
func (m *MockStore) LatestInsight(_ context.Context, userID string,
	maxMilestone int) (fn.Option[insight.Record], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best  insight.Record
		found bool
	)
	for ms, rec := range m.rows[userID] {
		if maxMilestone > 0 && ms > maxMilestone {
			continue
		}
		if !found || ms > best.Milestone {
			best, found = rec, true
		}
	}
	if !found {
		return fn.None[insight.Record](), nil
	}

	return fn.Some(copyRecord(best)), nil
}

// ListInsights returns every record of a user, highest milestone first.
func (m *MockStore) ListInsights(_ context.Context,
	userID string) ([]insight.Record, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]insight.Record, 0, len(m.rows[userID]))
	for _, rec := range m.rows[userID] {
		recs = append(recs, copyRecord(rec))
	}
	slices.SortFunc(recs, func(a, b insight.Record) int {
		return b.Milestone - a.Milestone
	})

	return recs, nil
}

// UserCount returns the number of users with at least one record.
func (m *MockStore) UserCount(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	for _, user := range m.rows {
		if len(user) > 0 {
			n++
		}
	}

	return n, nil
}

// DeleteInsight removes the record for one milestone.
func (m *MockStore) DeleteInsight(_ context.Context, userID string,
	milestone int) error {

	m.mu.Lock()
	_, ok := m.rows[userID][milestone]
	delete(m.rows[userID], milestone)
	m.mu.Unlock()

	if ok {
		m.publish(notify.Event{
			UserID:    userID,
			Milestone: milestone,
			Kind:      notify.KindDelete,
		})
	}

	return nil
}

// DeleteUserInsights removes every record of a user.
func (m *MockStore) DeleteUserInsights(_ context.Context,
	userID string) error {

	m.mu.Lock()
	n := len(m.rows[userID])
	delete(m.rows, userID)
	m.mu.Unlock()

	if n > 0 {
		m.publish(notify.Event{UserID: userID, Kind: notify.KindDelete})
	}

	return nil
}

func (m *MockStore) publish(ev notify.Event) {
	if m.pub == nil {
		return
	}

	ev.At = time.Now().UTC()
	m.pub.Publish(ev)
}

// copyRecord detaches the theme slice and expiry pointer.
func copyRecord(rec insight.Record) insight.Record {
	rec.Themes = slices.Clone(rec.Themes)
	if rec.CacheExpiresAt != nil {
		e := *rec.CacheExpiresAt
		rec.CacheExpiresAt = &e
	}

	return rec
}
