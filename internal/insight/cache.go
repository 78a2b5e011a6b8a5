package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/singleflight"

	"github.com/roasbeef/insightd/internal/milestone"
)

// tier names used in log events.
const (
	tierMemory = "memory"
	tierLocal  = "local"
	tierRemote = "remote"
)

// Cache coordinates the memory, local and remote tiers. It is the only
// component allowed to mutate a user's cached record; generation, sync and
// migration all go through it.
//
// Reads resolve memory -> local -> remote, keep the record with the newest
// generation timestamp and backfill the faster tiers with it. A failing tier
// is treated as a miss.
type Cache struct {
	cfg    Config
	local  LocalStore
	remote RemoteStore
	log    *slog.Logger

	mem *memoryTier

	// probes collapses concurrent lookups for the same user and count.
	probes singleflight.Group

	// onChange is invoked whenever the record held in memory for a user
	// changes. It must not block.
	onChange func(rec Record)
}

// NewCache creates a tier coordinator over the given local and remote
// stores.
func NewCache(cfg Config, local LocalStore, remote RemoteStore,
	log *slog.Logger) *Cache {

	if log == nil {
		log = slog.Default()
	}

	return &Cache{
		cfg:    cfg.withDefaults(),
		local:  local,
		remote: remote,
		log:    log.With("component", "insight_cache"),
		mem:    newMemoryTier(),
	}
}

// Current returns the record held in memory for the user without probing
// any other tier.
func (c *Cache) Current(userID string) fn.Option[Record] {
	return c.mem.record(userID)
}

// Snapshot returns the user's cache entry state.
func (c *Cache) Snapshot(userID string) Snapshot {
	return c.mem.snapshot(userID)
}

// Get returns the freshest record for the user given the live entry count.
// A memory record already on the live milestone is returned without any
// I/O. None with a nil error means every tier answered and none had a
// record; an error is only returned when no record was found and both the
// local and remote tiers failed.
func (c *Cache) Get(ctx context.Context, userID string,
	entryCount int) (fn.Option[Record], error) {

	if entryCount >= 0 {
		c.mem.noteEntryCount(userID, entryCount)
	}

	target := milestone.Compute(entryCount)
	held := c.mem.record(userID)

	var hit bool
	held.WhenSome(func(r Record) {
		hit = entryCount >= 0 && r.Milestone == target
	})
	if hit {
		return held, nil
	}

	return c.probeShared(ctx, probeRequest{
		userID:     userID,
		entryCount: entryCount,
	})
}

// Refresh re-reads the user's record from every tier, ignoring the memory
// and local short cuts. It is used when another device reported a change.
// The locally known entry count may be behind the other device's, so the
// newest record wins regardless of milestone.
func (c *Cache) Refresh(ctx context.Context,
	userID string) (fn.Option[Record], error) {

	return c.probeShared(ctx, probeRequest{
		userID:     userID,
		entryCount: -1,
		refresh:    true,
	})
}

// storeOptions holds options for Store.
type storeOptions struct {
	requireRemote bool

	// epoch, when set, is the clear epoch the write was started under.
	epoch fn.Option[uint64]
}

// StoreOption is a functional option for Store.
type StoreOption func(*storeOptions)

// RequireRemote makes Store fail when the remote write fails instead of
// only logging it.
func RequireRemote() StoreOption {
	return func(o *storeOptions) {
		o.requireRemote = true
	}
}

// IfNotClearedSince makes Store drop the write with ErrSuperseded when the
// user's cache was cleared after epoch was read from ClearEpoch.
func IfNotClearedSince(epoch uint64) StoreOption {
	return func(o *storeOptions) {
		o.epoch = fn.Some(epoch)
	}
}

// ClearEpoch returns a counter that advances each time the user's cache is
// invalidated or deleted.
func (c *Cache) ClearEpoch(userID string) uint64 {
	return c.mem.clearEpoch(userID)
}

// Put writes the record through every tier. Memory is updated before Put
// returns. A remote failure is logged and does not fail the call.
func (c *Cache) Put(ctx context.Context, rec Record) error {
	return c.Store(ctx, rec)
}

// Store writes the record through every tier, honoring the given options.
func (c *Cache) Store(ctx context.Context, rec Record,
	opts ...StoreOption) error {

	if rec.UserID == "" {
		return &ValidationError{
			Field:  "user_id",
			Reason: "record has no owner",
		}
	}

	o := &storeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	w := c.mem.writer(rec.UserID)
	w.Lock()
	defer w.Unlock()

	// Clears take the same writer lock, so the epoch cannot move between
	// this check and the writes below.
	var cleared bool
	o.epoch.WhenSome(func(epoch uint64) {
		cleared = c.mem.clearEpoch(rec.UserID) != epoch
	})
	if cleared {
		c.log.InfoContext(ctx, "Write dropped, cache cleared meanwhile",
			"user_id", rec.UserID, "milestone", rec.Milestone,
		)

		return ErrSuperseded
	}

	prev := c.mem.record(rec.UserID)
	if c.mem.put(rec) {
		c.changed(rec)
	}

	localErr := c.saveLocal(ctx, rec)
	if localErr != nil {
		c.log.WarnContext(ctx, "Local write failed",
			"user_id", rec.UserID, "milestone", rec.Milestone,
			"error", localErr,
		)
	}

	if err := c.saveRemote(ctx, rec); err != nil {
		c.log.WarnContext(ctx, "Remote write failed",
			"user_id", rec.UserID, "milestone", rec.Milestone,
			"error", err,
		)

		if o.requireRemote {
			return errors.Join(
				localErr, fmt.Errorf("remote write: %w", err),
			)
		}
	} else {
		c.pruneSuperseded(ctx, prev, rec)
	}

	if localErr != nil {
		return fmt.Errorf("local write: %w", localErr)
	}

	return nil
}

// Invalidate drops the user's record from memory and the local store. The
// remote copy is left untouched.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	w := c.mem.writer(userID)
	w.Lock()
	defer w.Unlock()

	c.mem.clear(userID)

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	if err := c.local.Delete(tctx, RecordNamespace, userID); err != nil {
		return fmt.Errorf("delete local record: %w", err)
	}

	c.log.InfoContext(ctx, "Cache invalidated", "user_id", userID)

	return nil
}

// DeleteAll removes the user's records from every tier, including the
// remote database.
func (c *Cache) DeleteAll(ctx context.Context, userID string) error {
	w := c.mem.writer(userID)
	w.Lock()
	defer w.Unlock()

	c.mem.clear(userID)

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	var errs []error
	if err := c.local.Delete(tctx, RecordNamespace, userID); err != nil {
		errs = append(errs, fmt.Errorf("delete local record: %w", err))
	}
	if err := c.remote.DeleteUserInsights(tctx, userID); err != nil {
		errs = append(errs, fmt.Errorf("delete remote records: %w",
			err))
	}

	c.log.InfoContext(ctx, "Cache deleted on all tiers",
		"user_id", userID, "errors", len(errs),
	)

	return errors.Join(errs...)
}

// probeRequest describes one tier probe.
type probeRequest struct {
	userID string

	// entryCount is the live entry count, or -1 when unknown.
	entryCount int

	// refresh skips the local short cut so the remote tier is always
	// consulted.
	refresh bool
}

func (p probeRequest) key() string {
	return p.userID + "/" + strconv.Itoa(p.entryCount) + "/" +
		strconv.FormatBool(p.refresh)
}

// probeShared runs a probe, sharing the result with concurrent identical
// probes.
func (c *Cache) probeShared(ctx context.Context,
	req probeRequest) (fn.Option[Record], error) {

	v, err, _ := c.probes.Do(req.key(), func() (any, error) {
		return c.probe(ctx, req)
	})
	if err != nil {
		return fn.None[Record](), err
	}

	return cloneOption(v.(fn.Option[Record])), nil
}

// candidates collects the records returned by each tier.
type candidates struct {
	recs  []Record
	tiers []string
}

func (c *candidates) add(tier string, rec fn.Option[Record]) {
	rec.WhenSome(func(r Record) {
		c.recs = append(c.recs, r)
		c.tiers = append(c.tiers, tier)
	})
}

// newest returns the candidate with the newest generation timestamp. Ties go
// to the faster tier.
func (c *candidates) newest() (Record, string, bool) {
	best := -1
	for i, r := range c.recs {
		if best == -1 || r.Newer(c.recs[best]) {
			best = i
		}
	}
	if best == -1 {
		return Record{}, "", false
	}

	return c.recs[best], c.tiers[best], true
}

// newestAtOrBelow is newest restricted to milestones <= limit.
func (c *candidates) newestAtOrBelow(limit int) fn.Option[Record] {
	best := fn.None[Record]()
	var bestRec Record
	for _, r := range c.recs {
		if r.Milestone > limit {
			continue
		}
		if best.IsNone() || r.Newer(bestRec) {
			bestRec = r
			best = fn.Some(r)
		}
	}

	return best
}

// from returns the record a given tier produced, if any.
func (c *candidates) from(tier string) fn.Option[Record] {
	for i, t := range c.tiers {
		if t == tier {
			return fn.Some(c.recs[i])
		}
	}

	return fn.None[Record]()
}

// probe consults the local and remote tiers, reconciles them with memory
// and backfills the winner upward.
func (c *Cache) probe(ctx context.Context,
	req probeRequest) (fn.Option[Record], error) {

	var probeErr error
	seq := c.mem.beginProbe(req.userID)
	defer func() {
		c.mem.endProbe(req.userID, probeErr)
	}()

	known := req.entryCount >= 0
	target := milestone.Compute(req.entryCount)

	var cands candidates
	cands.add(tierMemory, c.mem.record(req.userID))

	localRec, localErr := c.loadLocal(ctx, req.userID)
	c.logTier(ctx, req.userID, tierLocal, localRec, localErr)
	cands.add(tierLocal, localRec)

	// A local record already on the live milestone is good enough unless
	// we were told another device wrote something newer.
	var localHit bool
	localRec.WhenSome(func(r Record) {
		localHit = known && !req.refresh && r.Milestone == target
	})

	var remoteErr error
	if !localHit {
		var remoteRec fn.Option[Record]
		remoteRec, remoteErr = c.loadRemote(
			ctx, req.userID, req.entryCount,
		)
		c.logTier(ctx, req.userID, tierRemote, remoteRec, remoteErr)
		cands.add(tierRemote, remoteRec)
	}

	winner, tier, ok := cands.newest()
	if !ok {
		if localErr != nil && remoteErr != nil {
			probeErr = errors.Join(localErr, remoteErr)
			return fn.None[Record](), probeErr
		}

		return fn.None[Record](), nil
	}

	// Entries were deleted and the live count fell below the winner's
	// milestone: prefer the newest record that is still valid.
	if known && winner.Milestone > target {
		winner, tier = c.fallback(ctx, req.userID, target, &cands,
			winner, tier)
	}

	return c.backfill(ctx, req.userID, winner, tier, seq, &cands), nil
}

// fallback looks for the newest record at or below the live milestone.
func (c *Cache) fallback(ctx context.Context, userID string, target int,
	cands *candidates, winner Record, tier string) (Record, string) {

	best := cands.newestAtOrBelow(target)
	bestTier := ""

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	remoteRec, err := c.remote.LatestInsight(tctx, userID, target)
	if err != nil {
		c.log.DebugContext(ctx, "Tier miss",
			"user_id", userID, "tier", tierRemote,
			"reason", "fallback lookup failed", "error", err,
		)
	}
	remoteRec.WhenSome(func(r Record) {
		var better bool
		best.WhenSome(func(b Record) {
			better = r.Newer(b)
		})
		if best.IsNone() || better {
			best = fn.Some(r)
			bestTier = tierRemote
		}
	})

	var out Record
	found := false
	best.WhenSome(func(r Record) {
		out, found = r, true
	})
	if !found {
		return winner, tier
	}
	if bestTier == "" {
		bestTier = tierLocal
	}

	c.log.InfoContext(ctx, "Entry count below record milestone, "+
		"falling back",
		"user_id", userID, "from_milestone", winner.Milestone,
		"to_milestone", out.Milestone,
	)

	return out, bestTier
}

// backfill installs the winner in memory and, when it differs, in the local
// store. If a newer write overtook this probe, the newer record is returned
// instead.
func (c *Cache) backfill(ctx context.Context, userID string, winner Record,
	tier string, seq uint64, cands *candidates) fn.Option[Record] {

	w := c.mem.writer(userID)
	w.Lock()
	defer w.Unlock()

	accepted, changed := c.mem.adopt(userID, winner, seq)
	if !accepted {
		c.log.DebugContext(ctx, "Probe superseded by newer write",
			"user_id", userID, "milestone", winner.Milestone,
		)

		return c.mem.record(userID)
	}
	if changed {
		c.changed(winner)
	}

	var localSame bool
	cands.from(tierLocal).WhenSome(func(r Record) {
		localSame = r.SameVersion(winner)
	})
	if !localSame {
		if err := c.saveLocal(ctx, winner); err != nil {
			c.log.WarnContext(ctx, "Local backfill failed",
				"user_id", userID, "error", err,
			)
		}
	}

	if changed || !localSame {
		c.log.DebugContext(ctx, "Tier backfill",
			"user_id", userID, "source", tier,
			"milestone", winner.Milestone,
			"memory", changed, "local", !localSame,
		)
	}

	return fn.Some(winner.clone())
}

// loadLocal reads and decodes the user's local record.
func (c *Cache) loadLocal(ctx context.Context,
	userID string) (fn.Option[Record], error) {

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	raw, err := c.local.Get(tctx, RecordNamespace, userID)
	if err != nil {
		return fn.None[Record](), err
	}

	var (
		rec    Record
		decErr error
		found  bool
	)
	raw.WhenSome(func(b []byte) {
		found = true
		decErr = json.Unmarshal(b, &rec)
	})
	if !found {
		return fn.None[Record](), nil
	}
	if decErr != nil {
		return fn.None[Record](), &DecodeError{
			Details: "local record", Err: decErr,
		}
	}
	if rec.UserID == "" {
		rec.UserID = userID
	}
	if rec.UserID != userID {
		return fn.None[Record](), fmt.Errorf("local record owned by "+
			"%q, not %q", rec.UserID, userID)
	}

	return fn.Some(rec), nil
}

// saveLocal encodes and stores the record under the owner's key.
func (c *Cache) saveLocal(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	return c.local.Put(tctx, RecordNamespace, rec.UserID, b)
}

// loadRemote looks up the exact milestone when the count sits on one, and
// otherwise (or on a miss) the latest record regardless of milestone.
func (c *Cache) loadRemote(ctx context.Context, userID string,
	entryCount int) (fn.Option[Record], error) {

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	var exactErr error
	if milestone.IsAt(entryCount) {
		rec, err := c.remote.InsightByMilestone(
			tctx, userID, milestone.Compute(entryCount),
		)
		if err == nil && rec.IsSome() {
			return rec, nil
		}
		exactErr = err
	}

	rec, err := c.remote.LatestInsight(tctx, userID, 0)
	if err != nil {
		return fn.None[Record](), errors.Join(exactErr, err)
	}

	return rec, nil
}

// saveRemote upserts the record in the remote database.
func (c *Cache) saveRemote(ctx context.Context, rec Record) error {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	return c.remote.UpsertInsight(tctx, rec)
}

// pruneSuperseded removes the remote row of the record rec replaced, when
// configured to do so.
func (c *Cache) pruneSuperseded(ctx context.Context, prev fn.Option[Record],
	rec Record) {

	if !c.cfg.PruneSuperseded {
		return
	}

	prev.WhenSome(func(p Record) {
		if p.Milestone >= rec.Milestone {
			return
		}

		tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
		defer cancel()

		err := c.remote.DeleteInsight(tctx, rec.UserID, p.Milestone)
		if err != nil {
			c.log.WarnContext(ctx, "Prune superseded record failed",
				"user_id", rec.UserID,
				"milestone", p.Milestone, "error", err,
			)
		}
	})
}

// logTier emits one event for a tier that produced no record.
func (c *Cache) logTier(ctx context.Context, userID, tier string,
	rec fn.Option[Record], err error) {

	switch {
	case err != nil:
		c.log.WarnContext(ctx, "Tier miss",
			"user_id", userID, "tier", tier, "reason", "error",
			"error", err,
		)

	case rec.IsNone():
		c.log.DebugContext(ctx, "Tier miss",
			"user_id", userID, "tier", tier, "reason", "empty",
		)
	}
}

// changed forwards a memory change to the registered observer hook.
func (c *Cache) changed(rec Record) {
	if c.onChange != nil {
		c.onChange(rec.clone())
	}
}

// markGenerating flags the user as having a generation in flight.
func (c *Cache) markGenerating(userID string, on bool) {
	c.mem.setGenerating(userID, on)
}

// recordError overlays a failure on the user's state without touching the
// held record.
func (c *Cache) recordError(userID string, err error) {
	c.mem.setError(userID, err)
}

// legacyRecord reads the unscoped record written before records were kept
// per user.
func (c *Cache) legacyRecord(ctx context.Context) (fn.Option[[]byte], error) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	return c.local.Get(tctx, LegacyNamespace, LegacyRecordKey)
}

// dropLegacy deletes the unscoped record.
func (c *Cache) dropLegacy(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	return c.local.Delete(tctx, LegacyNamespace, LegacyRecordKey)
}

// legacyMigrated reports whether the migration flag is set.
func (c *Cache) legacyMigrated(ctx context.Context) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	flag, err := c.local.Get(tctx, MetaNamespace, LegacyMigratedKey)
	if err != nil {
		return false, err
	}

	return flag.IsSome(), nil
}

// markLegacyMigrated persists the migration flag.
func (c *Cache) markLegacyMigrated(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()

	return c.local.Put(tctx, MetaNamespace, LegacyMigratedKey, []byte("1"))
}
