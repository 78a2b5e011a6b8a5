package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/insightd/internal/milestone"
	"github.com/roasbeef/insightd/internal/notify"
)

// LoadStatus classifies a LoadOrGenerate result.
type LoadStatus uint8

const (
	// StatusReady means the record matches the live milestone.
	StatusReady LoadStatus = iota

	// StatusStale means the record belongs to another milestone but is
	// still shown.
	StatusStale

	// StatusPending means more entries are needed before an insight can
	// be produced.
	StatusPending

	// StatusGenerating means another call is generating the insight.
	StatusGenerating
)

// String returns the status name.
func (s LoadStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusStale:
		return "stale"
	case StatusPending:
		return "pending"
	case StatusGenerating:
		return "generating"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// LoadResult is what LoadOrGenerate hands to the presentation layer.
type LoadResult struct {
	Status LoadStatus

	// Record is the record to display, if any.
	Record fn.Option[Record]

	// EntriesNeeded is set for StatusPending.
	EntriesNeeded int

	// Milestone is the milestone of the live entry count.
	Milestone int

	// Err is a generation failure that was suppressed because a record
	// could still be shown.
	Err error
}

// Deps are the collaborators of a Service.
type Deps struct {
	// Local is the on-device store. Required.
	Local LocalStore

	// Remote is the shared insight database. Required.
	Remote RemoteStore

	// Summarizer is the summarization client. Without it, generation
	// fails with a ConfigurationError.
	Summarizer Summarizer

	// Feed is the change feed. Without it, records written by other
	// devices are only seen on the next probe.
	Feed notify.Feed
}

// Service is the insight engine's surface: it combines the cache tiers,
// generation, cross-device sync and legacy migration.
type Service struct {
	cfg Config
	log *slog.Logger

	cache     *Cache
	generator *Generator
	listener  *SyncListener
	migrator  *LegacyMigrator
	observers *observerHub

	mu       sync.Mutex
	migrated map[string]bool
}

// NewService wires a Service from its collaborators.
func NewService(cfg Config, deps Deps, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Local == nil {
		return nil, &ConfigurationError{
			Component: "local store",
			Reason:    "no local store",
		}
	}
	if deps.Remote == nil {
		return nil, &ConfigurationError{
			Component: "remote store",
			Reason:    "no remote store",
		}
	}

	cfg = cfg.withDefaults()

	s := &Service{
		cfg:       cfg,
		log:       log.With("component", "insight"),
		observers: newObserverHub(),
		migrated:  make(map[string]bool),
	}

	s.cache = NewCache(cfg, deps.Local, deps.Remote, log)
	s.cache.onChange = s.observers.publish

	s.listener = NewSyncListener(cfg, s.cache, deps.Feed, log)
	s.migrator = NewLegacyMigrator(s.cache, log)

	s.generator = NewGenerator(cfg, s.cache, deps.Summarizer, log)
	s.generator.onCall = func(_ context.Context, userID string) {
		s.listener.Ensure(userID)
	}

	return s, nil
}

// LoadOrGenerate returns the insight for the user's live entries,
// generating one when the entry count reached a new milestone. Failures
// are only returned when there is no record at all to show.
func (s *Service) LoadOrGenerate(ctx context.Context, userID string,
	entries []Entry) (LoadResult, error) {

	if userID == "" {
		return LoadResult{}, &ValidationError{
			Field:  "user_id",
			Reason: "empty user id",
		}
	}

	s.migrateOnLoad(ctx, userID)

	res, err := s.generator.GenerateIfNeeded(ctx, userID, entries)

	return s.loadResult(userID, len(entries), res, err)
}

// Generate generates a new insight regardless of the milestone policy.
// force asks the summarization service to bypass its own cache.
func (s *Service) Generate(ctx context.Context, userID string,
	entries []Entry, force bool) (LoadResult, error) {

	if userID == "" {
		return LoadResult{}, &ValidationError{
			Field:  "user_id",
			Reason: "empty user id",
		}
	}

	res, err := s.generator.Generate(ctx, userID, entries, force)

	return s.loadResult(userID, len(entries), res, err)
}

func (s *Service) loadResult(userID string, count int, res GenerateResult,
	err error) (LoadResult, error) {

	target := milestone.Compute(count)

	status := func(rec fn.Option[Record]) LoadStatus {
		st := StatusReady
		rec.WhenSome(func(r Record) {
			if r.Milestone != target {
				st = StatusStale
			}
		})

		return st
	}

	switch {
	case err != nil:
		cur := s.cache.Current(userID)
		if cur.IsNone() {
			return LoadResult{}, err
		}

		return LoadResult{
			Status:    status(cur),
			Record:    cur,
			Milestone: target,
			Err:       err,
		}, nil

	case res.NoOp:
		return LoadResult{
			Status:    StatusGenerating,
			Record:    s.cache.Current(userID),
			Milestone: target,
		}, nil

	case res.Decision.Action == milestone.AwaitMore:
		return LoadResult{
			Status:        StatusPending,
			Record:        res.Record,
			EntriesNeeded: res.Decision.EntriesNeeded,
			Milestone:     target,
		}, nil

	default:
		return LoadResult{
			Status:    status(res.Record),
			Record:    res.Record,
			Milestone: target,
		}, nil
	}
}

// Get returns the freshest record for the user and entry count without
// generating anything.
func (s *Service) Get(ctx context.Context, userID string,
	entryCount int) (fn.Option[Record], error) {

	return s.cache.Get(ctx, userID, entryCount)
}

// CurrentRecord returns the record held in memory for the user.
func (s *Service) CurrentRecord(userID string) fn.Option[Record] {
	return s.cache.Current(userID)
}

// Status returns the user's cache state.
func (s *Service) Status(userID string) Snapshot {
	return s.cache.Snapshot(userID)
}

// Clear drops the user's cached record, for example on sign-out, and stops
// listening for the user's changes. Remote records are only removed when
// alsoRemote is set.
func (s *Service) Clear(ctx context.Context, userID string,
	alsoRemote bool) error {

	s.listener.Stop(userID)

	if alsoRemote {
		return s.cache.DeleteAll(ctx, userID)
	}

	return s.cache.Invalidate(ctx, userID)
}

// DeleteAccount removes every trace of the user's insights.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	s.listener.Stop(userID)

	s.mu.Lock()
	delete(s.migrated, userID)
	s.mu.Unlock()

	if err := s.cache.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("delete account insights: %w", err)
	}

	return nil
}

// Subscribe registers fn to be called whenever the user's current record
// changes.
func (s *Service) Subscribe(userID string, fn func(Record)) *Observer {
	return s.observers.add(userID, fn)
}

// Listen starts the change listener for the user. Generation starts it on
// its own; Listen is for callers that only read.
func (s *Service) Listen(userID string) {
	s.listener.Ensure(userID)
}

// MigrateLegacy runs the one-time legacy migration for the user.
func (s *Service) MigrateLegacy(ctx context.Context,
	userID string) (MigrationResult, error) {

	res, err := s.migrator.Run(ctx, userID)
	if err == nil {
		s.mu.Lock()
		s.migrated[userID] = true
		s.mu.Unlock()
	}

	return res, err
}

// migrateOnLoad runs the migration on the first load of a user. A failure
// is logged and retried on the next load.
func (s *Service) migrateOnLoad(ctx context.Context, userID string) {
	if !s.cfg.MigrateOnLoad {
		return
	}

	s.mu.Lock()
	done := s.migrated[userID]
	s.mu.Unlock()
	if done {
		return
	}

	_, err := s.MigrateLegacy(ctx, userID)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.WarnContext(ctx, "Legacy migration failed, will retry",
			"user_id", userID, "error", err,
		)
	}
}

// Close stops all listeners and the observer dispatcher.
func (s *Service) Close() {
	s.listener.Close()
	s.observers.close()
}
