package insight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// fakeLocal is an in-memory LocalStore with failure injection.
type fakeLocal struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	failPut bool
	failDel bool
	puts    int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{data: make(map[string][]byte)}
}

func (f *fakeLocal) Get(_ context.Context, ns,
	key string) (fn.Option[[]byte], error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failGet {
		return fn.None[[]byte](), errInjected
	}
	v, ok := f.data[ns+"/"+key]
	if !ok {
		return fn.None[[]byte](), nil
	}

	return fn.Some(append([]byte(nil), v...)), nil
}

func (f *fakeLocal) Put(_ context.Context, ns, key string, v []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failPut {
		return errInjected
	}
	f.data[ns+"/"+key] = append([]byte(nil), v...)
	f.puts++

	return nil
}

func (f *fakeLocal) Delete(_ context.Context, ns, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDel {
		return errInjected
	}
	delete(f.data, ns+"/"+key)

	return nil
}

func (f *fakeLocal) set(fail func(f *fakeLocal)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fail(f)
}

func (f *fakeLocal) has(ns, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.data[ns+"/"+key]
	return ok
}

// fakeRemote is an in-memory RemoteStore keyed by (user, milestone).
type fakeRemote struct {
	mu      sync.Mutex
	rows    map[string]map[int]Record
	fail    bool
	upserts int
	reads   int

	// onLatest runs, without the lock, at the start of LatestInsight.
	onLatest func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[string]map[int]Record)}
}

func (f *fakeRemote) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fail = fail
}

func (f *fakeRemote) insert(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rows[rec.UserID] == nil {
		f.rows[rec.UserID] = make(map[int]Record)
	}
	f.rows[rec.UserID][rec.Milestone] = rec.clone()
}

func (f *fakeRemote) UpsertInsight(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errInjected
	}
	if f.rows[rec.UserID] == nil {
		f.rows[rec.UserID] = make(map[int]Record)
	}
	f.rows[rec.UserID][rec.Milestone] = rec.clone()
	f.upserts++

	return nil
}

func (f *fakeRemote) InsightByMilestone(_ context.Context, userID string,
	m int) (fn.Option[Record], error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.fail {
		return fn.None[Record](), errInjected
	}
	rec, ok := f.rows[userID][m]
	if !ok {
		return fn.None[Record](), nil
	}

	return fn.Some(rec.clone()), nil
}

func (f *fakeRemote) LatestInsight(_ context.Context, userID string,
	maxMilestone int) (fn.Option[Record], error) {

	f.mu.Lock()
	hook := f.onLatest
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.fail {
		return fn.None[Record](), errInjected
	}

	best := fn.None[Record]()
	bestM := 0
	for m, rec := range f.rows[userID] {
		if maxMilestone > 0 && m > maxMilestone {
			continue
		}
		if m > bestM {
			bestM = m
			best = fn.Some(rec.clone())
		}
	}

	return best, nil
}

func (f *fakeRemote) DeleteInsight(_ context.Context, userID string,
	m int) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errInjected
	}
	delete(f.rows[userID], m)

	return nil
}

func (f *fakeRemote) DeleteUserInsights(_ context.Context,
	userID string) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errInjected
	}
	delete(f.rows, userID)

	return nil
}

func (f *fakeRemote) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.rows[userID])
}

func (f *fakeRemote) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.upserts
}

// fakeSummarizer returns a canned summary. If block is set, calls wait for
// it to be closed or for the context to end.
type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	batches [][]Entry
	summary Summary
	err     error
	block   chan struct{}
	started chan struct{}
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{
		summary: Summary{
			Summary:     "You write most on quiet evenings.",
			Description: "A longer reflection.",
			Themes:      []Theme{{Name: "rest"}},
		},
		started: make(chan struct{}, 16),
	}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, entries []Entry,
	_ bool) (Summary, error) {

	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, entries)
	block, s, err := f.block, f.summary, f.err
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}
	if err != nil {
		return Summary{}, err
	}

	s.GeneratedAt = time.Now()
	s.EntriesAnalyzed = len(entries)

	return s, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// makeEntries returns n valid entries, newest first.
func makeEntries(n int) []Entry {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			ID:      fmt.Sprintf("entry-%d", i),
			Date:    base.Add(-time.Duration(i) * time.Hour),
			Title:   fmt.Sprintf("Day %d", i),
			Content: "Walked by the river and felt calm.",
		}
	}

	return entries
}

// makeRecord returns a record generated at the given offset from a fixed
// base time.
func makeRecord(userID string, m int, offset time.Duration) Record {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	return NewRecord(userID, m, Summary{
		Summary:         fmt.Sprintf("milestone %d", m),
		EntriesAnalyzed: m,
		GeneratedAt:     base.Add(offset),
	})
}

func newTestCache(t *testing.T) (*Cache, *fakeLocal, *fakeRemote) {
	t.Helper()

	local, remote := newFakeLocal(), newFakeRemote()
	cfg := DefaultConfig()
	cfg.TierTimeout = time.Second

	return NewCache(cfg, local, remote, nil), local, remote
}

func requireRecord(t *testing.T, want Record, got fn.Option[Record]) {
	t.Helper()

	require.True(t, got.IsSome(), "expected a record")
	got.WhenSome(func(r Record) {
		require.Equal(t, want.Milestone, r.Milestone)
		require.True(t, want.GeneratedAt.Equal(r.GeneratedAt),
			"want %v, got %v", want.GeneratedAt, r.GeneratedAt)
		require.Equal(t, want.ID, r.ID)
	})
}
