package insight

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/insightd/internal/milestone"
)

// GenerateResult is the outcome of a generation request.
type GenerateResult struct {
	// Record is the record produced by this call, or the current record
	// when no generation was warranted.
	Record fn.Option[Record]

	// Decision is the policy decision taken for the live entry count.
	Decision milestone.Decision

	// Generated is true if the summarization service was called and its
	// result stored.
	Generated bool

	// NoOp is true if another generation for the user was already in
	// flight. Nothing was done.
	NoOp bool
}

// Generator produces new records when the milestone policy allows it. At
// most one generation per user runs at a time; a concurrent caller gets a
// NoOp result instead of waiting.
type Generator struct {
	cfg        Config
	cache      *Cache
	summarizer Summarizer
	log        *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	// onCall runs at the start of every generation request.
	onCall func(ctx context.Context, userID string)
}

// NewGenerator creates a generator that writes through the given cache.
func NewGenerator(cfg Config, cache *Cache, summarizer Summarizer,
	log *slog.Logger) *Generator {

	if log == nil {
		log = slog.Default()
	}

	return &Generator{
		cfg:        cfg.withDefaults(),
		cache:      cache,
		summarizer: summarizer,
		log:        log.With("component", "insight_generator"),
		inFlight:   make(map[string]struct{}),
	}
}

// GenerateIfNeeded consults the cache and the milestone policy and calls
// the summarization service only when the policy says so.
func (g *Generator) GenerateIfNeeded(ctx context.Context, userID string,
	entries []Entry) (GenerateResult, error) {

	g.called(ctx, userID)

	count := len(entries)
	current, err := g.cache.Get(ctx, userID, count)
	if err != nil {
		g.log.WarnContext(ctx, "Cache lookup failed before generation",
			"user_id", userID, "error", err,
		)
	}

	decision := decide(count, current)
	if decision.Action != milestone.Generate {
		return GenerateResult{
			Record:   current,
			Decision: decision,
		}, nil
	}

	res, err := g.generate(ctx, userID, entries, false, true)
	if res.Decision.Action != milestone.UseCurrent {
		res.Decision = decision
	}

	return res, err
}

// Generate calls the summarization service regardless of the policy. force
// also asks the service to skip its own response cache.
func (g *Generator) Generate(ctx context.Context, userID string,
	entries []Entry, force bool) (GenerateResult, error) {

	g.called(ctx, userID)

	res, err := g.generate(ctx, userID, entries, force, false)
	res.Decision = milestone.Decision{
		Action:    milestone.Generate,
		Milestone: milestone.Compute(len(entries)),
	}

	return res, err
}

// InFlight reports whether a generation is running for the user.
func (g *Generator) InFlight(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.inFlight[userID]
	return ok
}

func (g *Generator) called(ctx context.Context, userID string) {
	if g.onCall != nil {
		g.onCall(ctx, userID)
	}
}

// tryLock takes the user's generation lock without blocking.
func (g *Generator) tryLock(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inFlight[userID]; ok {
		return false
	}
	g.inFlight[userID] = struct{}{}

	return true
}

func (g *Generator) unlock(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, userID)
}

// generate runs one generation under the user's lock. With recheck set, a
// record for the live milestone that landed while the caller was deciding
// is returned instead of calling the service again.
func (g *Generator) generate(ctx context.Context, userID string,
	entries []Entry, force, recheck bool) (GenerateResult, error) {

	if !g.tryLock(userID) {
		g.log.DebugContext(ctx, "Generation already in flight",
			"user_id", userID,
		)

		return GenerateResult{NoOp: true}, nil
	}
	defer g.unlock(userID)

	epoch := g.cache.ClearEpoch(userID)
	target := milestone.Compute(len(entries))

	if recheck {
		current := g.cache.Current(userID)

		var done bool
		current.WhenSome(func(r Record) {
			done = r.Milestone == target
		})
		if done {
			g.log.DebugContext(ctx, "Milestone already generated",
				"user_id", userID, "milestone", target,
			)

			return GenerateResult{
				Record: current,
				Decision: milestone.Decision{
					Action:    milestone.UseCurrent,
					Milestone: target,
				},
			}, nil
		}
	}

	if g.summarizer == nil {
		return GenerateResult{}, &ConfigurationError{
			Component: "summarizer",
			Reason:    "no summarization client",
		}
	}

	batch, err := g.prepare(ctx, userID, entries)
	if err != nil {
		g.cache.recordError(userID, err)
		return GenerateResult{}, err
	}

	g.cache.markGenerating(userID, true)
	defer g.cache.markGenerating(userID, false)

	start := time.Now()
	g.log.InfoContext(ctx, "Generation started",
		"user_id", userID, "milestone", target,
		"entries", len(batch), "force", force,
	)

	summary, err := g.summarize(ctx, batch, force).Unpack()
	if err != nil {
		g.cache.recordError(userID, err)
		g.log.WarnContext(ctx, "Generation failed",
			"user_id", userID, "milestone", target,
			"duration", time.Since(start), "error", err,
		)

		return GenerateResult{}, err
	}

	summary = g.check(ctx, userID, summary, len(batch))
	rec := NewRecord(userID, target, summary)

	// Memory already holds the record once Store returns, so a failed
	// local write does not fail the generation. A clear that happened
	// while the service was working does.
	err = g.cache.Store(ctx, rec, IfNotClearedSince(epoch))
	switch {
	case errors.Is(err, ErrSuperseded):
		g.log.InfoContext(ctx, "Generated record discarded",
			"user_id", userID, "milestone", target,
			"duration", time.Since(start),
		)

		return GenerateResult{}, fmt.Errorf("generation for milestone "+
			"%d: %w", target, err)

	case err != nil:
		g.log.WarnContext(ctx, "Generated record not persisted",
			"user_id", userID, "milestone", target, "error", err,
		)
	}

	g.log.InfoContext(ctx, "Generation finished",
		"user_id", userID, "milestone", target,
		"duration", time.Since(start), "from_cache", rec.FromCache,
	)

	return GenerateResult{
		Record:    fn.Some(rec),
		Generated: true,
	}, nil
}

// summarize calls the service under the generation timeout.
func (g *Generator) summarize(ctx context.Context, batch []Entry,
	force bool) fn.Result[Summary] {

	tctx, cancel := context.WithTimeout(ctx, g.cfg.GenerationTimeout)
	defer cancel()

	s, err := g.summarizer.Summarize(tctx, batch, force)
	switch {
	case err == nil:
		return fn.Ok(s)

	case IsTimeout(err):
		return fn.Err[Summary](err)

	// Only our own deadline is a timeout. A cancelled parent is passed
	// through as is.
	case errors.Is(tctx.Err(), context.DeadlineExceeded) &&
		ctx.Err() == nil:

		return fn.Err[Summary](&TimeoutError{
			After: g.cfg.GenerationTimeout,
		})

	case ctx.Err() != nil:
		return fn.Err[Summary](fmt.Errorf("generation aborted: %w",
			ctx.Err()))

	default:
		return fn.Err[Summary](err)
	}
}

// prepare validates the entries and keeps the most recent MaxEntries.
func (g *Generator) prepare(ctx context.Context, userID string,
	entries []Entry) ([]Entry, error) {

	if len(entries) == 0 {
		return nil, &ValidationError{
			Field:  "entries",
			Reason: "no entries to analyze",
			Err:    ErrNoEntries,
		}
	}

	batch := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if e.Date.IsZero() {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("entries[%d].date", i),
				Reason: "missing date",
			}
		}
		if strings.TrimSpace(e.Content) == "" {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("entries[%d].content", i),
				Reason: "empty content",
			}
		}
		if strings.TrimSpace(e.Title) == "" {
			e.Title = e.Date.Format("January 2, 2006")
		}
		if e.WordCount <= 0 {
			e.WordCount = len(strings.Fields(e.Content))
		}

		batch = append(batch, e)
	}

	slices.SortStableFunc(batch, func(a, b Entry) int {
		return cmp.Compare(b.Date.UnixNano(), a.Date.UnixNano())
	})

	if len(batch) > g.cfg.MaxEntries {
		g.log.InfoContext(ctx, "Entries truncated for generation",
			"user_id", userID, "kept", g.cfg.MaxEntries,
			"dropped", len(batch)-g.cfg.MaxEntries,
		)
		batch = batch[:g.cfg.MaxEntries]
	}

	return batch, nil
}

// check normalizes a service response. Out of range lengths are logged,
// overlong summaries are cut.
func (g *Generator) check(ctx context.Context, userID string, s Summary,
	sent int) Summary {

	if utf8.RuneCountInString(s.Summary) > g.cfg.SummaryMaxChars {
		g.log.WarnContext(ctx, "Summary too long, truncating",
			"user_id", userID,
			"chars", utf8.RuneCountInString(s.Summary),
		)
		s.Summary = truncateRunes(s.Summary, g.cfg.SummaryMaxChars)
	}

	words := len(strings.Fields(s.Description))
	if words < g.cfg.DescriptionMinWords ||
		words > g.cfg.DescriptionMaxWords {

		g.log.DebugContext(ctx, "Description length out of range",
			"user_id", userID, "words", words,
		)
	}

	if s.EntriesAnalyzed <= 0 {
		s.EntriesAnalyzed = sent
	}

	return s
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}

	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}

	return s
}

// decide applies the milestone policy to the current record.
func decide(count int, current fn.Option[Record]) milestone.Decision {
	var (
		cur int
		has bool
	)
	current.WhenSome(func(r Record) {
		cur, has = r.Milestone, true
	})

	return milestone.Decide(count, cur, has)
}
