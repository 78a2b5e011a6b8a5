package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/insightd/internal/milestone"
)

// MigrationOutcome describes what a migration run did.
type MigrationOutcome uint8

const (
	// MigrationSkipped means the migration had already completed.
	MigrationSkipped MigrationOutcome = iota

	// MigrationNoLegacy means there was no legacy record to move.
	MigrationNoLegacy

	// MigrationCorrupt means the legacy record could not be decoded and
	// was discarded.
	MigrationCorrupt

	// MigrationSuperseded means the user already had a newer record, so
	// the legacy record was discarded.
	MigrationSuperseded

	// MigrationMigrated means the legacy record was moved to the user.
	MigrationMigrated
)

// String returns the outcome name.
func (o MigrationOutcome) String() string {
	switch o {
	case MigrationSkipped:
		return "skipped"
	case MigrationNoLegacy:
		return "no_legacy"
	case MigrationCorrupt:
		return "corrupt"
	case MigrationSuperseded:
		return "superseded"
	case MigrationMigrated:
		return "migrated"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// MigrationResult is the result of a migration run.
type MigrationResult struct {
	Outcome MigrationOutcome

	// Record is the migrated record for MigrationMigrated.
	Record fn.Option[Record]
}

// LegacyMigrator moves the record stored under the old unscoped key into
// the per-user scheme. It runs at most once per installation: a persisted
// flag is set after a fully successful run, and any failure leaves the flag
// unset so the next run retries.
type LegacyMigrator struct {
	cache *Cache
	log   *slog.Logger

	// mu serializes runs.
	mu sync.Mutex
}

// NewLegacyMigrator creates a migrator writing through the cache.
func NewLegacyMigrator(cache *Cache, log *slog.Logger) *LegacyMigrator {
	if log == nil {
		log = slog.Default()
	}

	return &LegacyMigrator{
		cache: cache,
		log:   log.With("component", "insight_migration"),
	}
}

// Run migrates the legacy record, if any, to userID.
func (m *LegacyMigrator) Run(ctx context.Context,
	userID string) (MigrationResult, error) {

	if userID == "" {
		return MigrationResult{}, &ValidationError{
			Field:  "user_id",
			Reason: "migration needs a user",
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	done, err := m.cache.legacyMigrated(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("read migration flag: %w",
			err)
	}
	if done {
		return MigrationResult{Outcome: MigrationSkipped}, nil
	}

	raw, err := m.cache.legacyRecord(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("read legacy record: %w",
			err)
	}

	var (
		body  []byte
		found bool
	)
	raw.WhenSome(func(b []byte) {
		body, found = b, true
	})
	if !found {
		return m.finish(ctx, userID, MigrationResult{
			Outcome: MigrationNoLegacy,
		}, false)
	}

	rec, err := decodeLegacy(body, userID)
	if err != nil {
		m.log.WarnContext(ctx, "Discarding corrupt legacy record",
			"user_id", userID, "error", err,
		)

		return m.finish(ctx, userID, MigrationResult{
			Outcome: MigrationCorrupt,
		}, true)
	}

	// Never let an old unscoped record replace a newer per-user one.
	existing, err := m.cache.Get(ctx, userID, -1)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("probe existing record: "+
			"%w", err)
	}

	// An equal timestamp is our own earlier attempt whose remote write
	// failed, so it is stored again.
	var superseded bool
	existing.WhenSome(func(e Record) {
		superseded = e.Newer(rec)
	})
	if superseded {
		return m.finish(ctx, userID, MigrationResult{
			Outcome: MigrationSuperseded,
		}, true)
	}

	if err := m.cache.Store(ctx, rec, RequireRemote()); err != nil {
		m.log.WarnContext(ctx, "Migration run",
			"user_id", userID, "outcome", "failed", "error", err,
		)

		return MigrationResult{}, fmt.Errorf("store migrated record: "+
			"%w", err)
	}

	return m.finish(ctx, userID, MigrationResult{
		Outcome: MigrationMigrated,
		Record:  fn.Some(rec),
	}, true)
}

// finish drops the legacy key if asked and then sets the flag.
func (m *LegacyMigrator) finish(ctx context.Context, userID string,
	res MigrationResult, dropLegacy bool) (MigrationResult, error) {

	if dropLegacy {
		if err := m.cache.dropLegacy(ctx); err != nil {
			return MigrationResult{}, fmt.Errorf("delete legacy "+
				"record: %w", err)
		}
	}

	if err := m.cache.markLegacyMigrated(ctx); err != nil {
		return MigrationResult{}, fmt.Errorf("set migration flag: %w",
			err)
	}

	attrs := []any{"user_id", userID, "outcome", res.Outcome.String()}
	res.Record.WhenSome(func(r Record) {
		attrs = append(attrs, "milestone", r.Milestone)
	})
	m.log.InfoContext(ctx, "Migration run", attrs...)

	return res, nil
}

// decodeLegacy turns the legacy payload into a record owned by userID. The
// legacy format carried no milestone, so it is estimated from the number of
// analyzed entries.
func decodeLegacy(body []byte, userID string) (Record, error) {
	var s Summary
	if err := json.Unmarshal(body, &s); err != nil {
		return Record{}, &DecodeError{Details: "legacy record", Err: err}
	}
	if s.Summary == "" && s.Description == "" {
		return Record{}, &DecodeError{
			Details: "legacy record has no content",
		}
	}
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = time.Now()
	}

	return NewRecord(userID, milestone.Compute(s.EntriesAnalyzed), s), nil
}
