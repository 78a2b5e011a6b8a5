package insight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/insightd/internal/milestone"
)

func newTestGenerator(t *testing.T,
	cfg Config) (*Generator, *Cache, *fakeSummarizer, *fakeRemote) {

	t.Helper()

	local, remote := newFakeLocal(), newFakeRemote()
	cache := NewCache(cfg, local, remote, nil)
	sum := newFakeSummarizer()

	return NewGenerator(cfg, cache, sum, nil), cache, sum, remote
}

// TestGenerateIfNeededSingleFlight tests that two concurrent calls for the
// same user result in one service call, the second returning NoOp.
func TestGenerateIfNeededSingleFlight(t *testing.T) {
	gen, _, sum, _ := newTestGenerator(t, DefaultConfig())
	sum.block = make(chan struct{})

	entries := makeEntries(3)

	var (
		wg     sync.WaitGroup
		first  GenerateResult
		errOne error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, errOne = gen.GenerateIfNeeded(
			context.Background(), "alice", entries,
		)
	}()

	select {
	case <-sum.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first generation never reached the service")
	}
	require.True(t, gen.InFlight("alice"))

	second, err := gen.GenerateIfNeeded(
		context.Background(), "alice", entries,
	)
	require.NoError(t, err)
	require.True(t, second.NoOp)
	require.True(t, second.Record.IsNone())

	close(sum.block)
	wg.Wait()

	require.NoError(t, errOne)
	require.True(t, first.Generated)
	require.Equal(t, 1, sum.callCount())
	require.False(t, gen.InFlight("alice"))
}

// TestGenerateIfNeededSlowLookup tests that two callers which both decided
// to generate from a slow shared lookup still call the service once.
func TestGenerateIfNeededSlowLookup(t *testing.T) {
	for i := 0; i < 50; i++ {
		gen, _, sum, remote := newTestGenerator(t, DefaultConfig())
		remote.onLatest = func() {
			time.Sleep(2 * time.Millisecond)
		}

		entries := makeEntries(3)

		var (
			wg      sync.WaitGroup
			results [2]GenerateResult
			errs    [2]error
		)
		for j := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[j], errs[j] = gen.GenerateIfNeeded(
					context.Background(), "alice", entries,
				)
			}()
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		require.Equal(t, 1, sum.callCount(), "run %d", i)
		require.True(t, results[0].Generated != results[1].Generated)

		for _, res := range results {
			if res.Generated || res.NoOp {
				continue
			}
			require.Equal(t, milestone.UseCurrent, res.Decision.Action)
			require.True(t, res.Record.IsSome())
		}
	}
}

// TestGenerateDiscardedAfterClear tests that a generation finishing after
// the user's cache was invalidated writes nothing back.
func TestGenerateDiscardedAfterClear(t *testing.T) {
	gen, cache, sum, remote := newTestGenerator(t, DefaultConfig())
	sum.block = make(chan struct{})
	ctx := context.Background()

	var (
		res GenerateResult
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = gen.GenerateIfNeeded(ctx, "alice", makeEntries(3))
	}()

	select {
	case <-sum.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never reached the service")
	}

	require.NoError(t, cache.Invalidate(ctx, "alice"))
	close(sum.block)
	<-done

	require.ErrorIs(t, err, ErrSuperseded)
	require.False(t, res.Generated)
	require.Equal(t, 1, sum.callCount())

	require.True(t, cache.Current("alice").IsNone())
	localRec, err := cache.loadLocal(ctx, "alice")
	require.NoError(t, err)
	require.True(t, localRec.IsNone())
	require.Zero(t, remote.count("alice"))

	// The next load generates normally.
	res, err = gen.GenerateIfNeeded(ctx, "alice", makeEntries(3))
	require.NoError(t, err)
	require.True(t, res.Generated)
	require.True(t, cache.Current("alice").IsSome())
}

// TestGenerateIfNeededOtherUsersNotBlocked tests that the lock is per user.
func TestGenerateIfNeededOtherUsersNotBlocked(t *testing.T) {
	gen, _, sum, _ := newTestGenerator(t, DefaultConfig())
	require.True(t, gen.tryLock("alice"))
	defer gen.unlock("alice")

	res, err := gen.GenerateIfNeeded(
		context.Background(), "bob", makeEntries(3),
	)
	require.NoError(t, err)
	require.True(t, res.Generated)
	require.Equal(t, 1, sum.callCount())
}

// TestGenerateIfNeededRecordMilestone tests that a generated record carries
// the milestone of the entry count and the service's cache flag.
func TestGenerateIfNeededRecordMilestone(t *testing.T) {
	gen, cache, _, remote := newTestGenerator(t, DefaultConfig())

	res, err := gen.GenerateIfNeeded(
		context.Background(), "alice", makeEntries(6),
	)
	require.NoError(t, err)
	require.True(t, res.Generated)
	require.Equal(t, milestone.Generate, res.Decision.Action)

	cache.Current("alice").WhenSome(func(r Record) {
		require.Equal(t, 6, r.Milestone)
		require.False(t, r.FromCache)
		require.Equal(t, 6, r.EntriesAnalyzed)
		require.NotEmpty(t, r.ID)
	})
	require.True(t, cache.Current("alice").IsSome())
	require.Equal(t, 1, remote.count("alice"))
}

// TestGenerateIfNeededSkips tests the cases where the policy does not allow
// generation.
func TestGenerateIfNeededSkips(t *testing.T) {
	gen, cache, sum, _ := newTestGenerator(t, DefaultConfig())
	ctx := context.Background()

	res, err := gen.GenerateIfNeeded(ctx, "alice", makeEntries(2))
	require.NoError(t, err)
	require.False(t, res.Generated)
	require.Equal(t, milestone.AwaitMore, res.Decision.Action)
	require.Equal(t, 1, res.Decision.EntriesNeeded)

	rec := makeRecord("alice", 3, time.Hour)
	require.NoError(t, cache.Put(ctx, rec))

	res, err = gen.GenerateIfNeeded(ctx, "alice", makeEntries(3))
	require.NoError(t, err)
	require.Equal(t, milestone.UseCurrent, res.Decision.Action)
	requireRecord(t, rec, res.Record)

	res, err = gen.GenerateIfNeeded(ctx, "alice", makeEntries(4))
	require.NoError(t, err)
	require.Equal(t, milestone.UseCurrent, res.Decision.Action)

	require.Zero(t, sum.callCount())
}

// TestGenerateTimeoutKeepsRecord tests that a service call exceeding its
// deadline returns a TimeoutError and leaves the current record alone.
func TestGenerateTimeoutKeepsRecord(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GenerationTimeout = 50 * time.Millisecond

	gen, cache, sum, _ := newTestGenerator(t, cfg)
	sum.block = make(chan struct{})
	defer close(sum.block)

	ctx := context.Background()
	rec := makeRecord("alice", 3, time.Hour)
	require.NoError(t, cache.Put(ctx, rec))

	_, err := gen.GenerateIfNeeded(ctx, "alice", makeEntries(6))
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, cfg.GenerationTimeout, timeoutErr.After)
	require.True(t, IsRetryable(err))

	requireRecord(t, rec, cache.Current("alice"))

	snap := cache.Snapshot("alice")
	require.Equal(t, StateStale, snap.State)
	require.True(t, IsTimeout(snap.LastErr))
	require.False(t, gen.InFlight("alice"))
}

// TestGenerateCallerCancel tests that a cancelled caller is not reported as
// a timeout.
func TestGenerateCallerCancel(t *testing.T) {
	gen, _, sum, _ := newTestGenerator(t, DefaultConfig())
	sum.block = make(chan struct{})
	defer close(sum.block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sum.started
		cancel()
	}()

	_, err := gen.Generate(ctx, "alice", makeEntries(3), false)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, IsTimeout(err))
}

// TestGenerateServiceErrorKeepsRecord tests that a failed call returns the
// typed error untouched.
func TestGenerateServiceErrorKeepsRecord(t *testing.T) {
	gen, cache, sum, _ := newTestGenerator(t, DefaultConfig())
	sum.err = &RateLimitedError{RetryAfter: 30 * time.Second}

	ctx := context.Background()
	rec := makeRecord("alice", 3, time.Hour)
	require.NoError(t, cache.Put(ctx, rec))

	_, err := gen.Generate(ctx, "alice", makeEntries(6), false)

	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, 30*time.Second, rateErr.RetryAfter)

	requireRecord(t, rec, cache.Current("alice"))
}

// TestGenerateValidation tests entry validation.
func TestGenerateValidation(t *testing.T) {
	gen, _, sum, _ := newTestGenerator(t, DefaultConfig())
	ctx := context.Background()

	_, err := gen.Generate(ctx, "alice", nil, false)
	require.ErrorIs(t, err, ErrNoEntries)

	entries := makeEntries(3)
	entries[1].Content = "   "
	_, err = gen.Generate(ctx, "alice", entries, false)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "entries[1].content", valErr.Field)

	entries = makeEntries(3)
	entries[2].Date = time.Time{}
	_, err = gen.Generate(ctx, "alice", entries, false)
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "entries[2].date", valErr.Field)

	require.Zero(t, sum.callCount())

	gen.summarizer = nil
	_, err = gen.Generate(ctx, "alice", makeEntries(3), false)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

// TestGenerateNormalizesEntries tests that missing titles and word counts
// are filled in and only the newest entries are sent.
func TestGenerateNormalizesEntries(t *testing.T) {
	gen, cache, sum, _ := newTestGenerator(t, DefaultConfig())

	entries := makeEntries(24)
	entries[0].Title = ""
	entries[0].WordCount = 0

	// Shuffle the order; the newest must still win.
	entries[0], entries[23] = entries[23], entries[0]

	_, err := gen.Generate(context.Background(), "alice", entries, false)
	require.NoError(t, err)

	require.Len(t, sum.batches, 1)
	batch := sum.batches[0]
	require.Len(t, batch, DefaultMaxEntries)

	newest := batch[0]
	require.Equal(t, "entry-0", newest.ID)
	require.Equal(t, "January 1, 2026", newest.Title)
	require.Equal(t, 7, newest.WordCount)

	for i := 1; i < len(batch); i++ {
		require.False(t, batch[i].Date.After(batch[i-1].Date))
	}

	// The milestone follows the full count, not the truncated batch.
	cache.Current("alice").WhenSome(func(r Record) {
		require.Equal(t, 24, r.Milestone)
	})
}

// TestGenerateChecksSummary tests the response checks applied before a
// record is stored.
func TestGenerateChecksSummary(t *testing.T) {
	gen, cache, sum, _ := newTestGenerator(t, DefaultConfig())
	sum.summary.Summary = strings.Repeat("é", 200)

	_, err := gen.Generate(context.Background(), "alice", makeEntries(3),
		false)
	require.NoError(t, err)

	cache.Current("alice").WhenSome(func(r Record) {
		require.Equal(t, strings.Repeat("é", DefaultSummaryMaxChars),
			r.Summary)
	})

	s := gen.check(context.Background(), "alice", Summary{}, 5)
	require.Equal(t, 5, s.EntriesAnalyzed)
}

// TestGenerateListenerHook tests that every generation request runs the
// hook the service uses to start the sync listener.
func TestGenerateListenerHook(t *testing.T) {
	gen, _, _, _ := newTestGenerator(t, DefaultConfig())

	var calls []string
	gen.onCall = func(_ context.Context, userID string) {
		calls = append(calls, userID)
	}

	_, err := gen.GenerateIfNeeded(context.Background(), "alice",
		makeEntries(1))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "bob", nil, false)
	require.True(t, errors.Is(err, ErrNoEntries))

	require.Equal(t, []string{"alice", "bob"}, calls)
}

// TestTruncateRunes tests rune-safe truncation.
func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "", truncateRunes("abc", 0))
	require.Equal(t, "ab", truncateRunes("abc", 2))
	require.Equal(t, "abc", truncateRunes("abc", 3))
	require.Equal(t, "日本", truncateRunes("日本語", 2))
}
