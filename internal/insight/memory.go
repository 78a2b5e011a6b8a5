package insight

import (
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/insightd/internal/milestone"
)

// State is the lifecycle position of a user's insight within this process.
type State uint8

const (
	// StateUnloaded means no tier has been consulted yet.
	StateUnloaded State = iota

	// StateProbing means tier lookups are in flight.
	StateProbing

	// StateCurrent means the held record matches the live milestone.
	StateCurrent

	// StateStale means a record is held but its milestone does not match
	// the live entry count.
	StateStale

	// StateGenerating means a summarization call is in flight.
	StateGenerating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateProbing:
		return "probing"
	case StateCurrent:
		return "current"
	case StateStale:
		return "stale"
	case StateGenerating:
		return "generating"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Snapshot is a consistent read of a user's cache entry.
type Snapshot struct {
	UserID string
	State  State

	// Record is the current record, if any.
	Record fn.Option[Record]

	// EntryCount is the last live entry count seen for the user, or -1
	// when unknown.
	EntryCount int

	// LastErr is the most recent probe or generation failure. It
	// overlays State and never replaces the held record.
	LastErr error
}

// cacheEntry is the per-user state held by the memory tier. It is only
// mutated by Cache.
type cacheEntry struct {
	record     fn.Option[Record]
	seq        uint64
	epoch      uint64
	state      State
	generating bool
	probing    int
	lastErr    error
	entryCount int

	// writeMu orders local and remote writes for this user.
	writeMu sync.Mutex
}

// settle recomputes the resting state from the record and entry count.
func (e *cacheEntry) settle() {
	switch {
	case e.generating:
		e.state = StateGenerating

	case e.probing > 0:
		e.state = StateProbing

	case e.record.IsNone():
		e.state = StateUnloaded

	default:
		e.state = StateCurrent
		e.record.WhenSome(func(r Record) {
			if e.entryCount >= 0 &&
				r.Milestone != milestone.Compute(e.entryCount) {

				e.state = StateStale
			}
		})
	}
}

// memoryTier is the in-process tier. It holds one cacheEntry per user.
type memoryTier struct {
	mu    sync.Mutex
	users map[string]*cacheEntry
}

func newMemoryTier() *memoryTier {
	return &memoryTier{
		users: make(map[string]*cacheEntry),
	}
}

// entry returns the entry for a user, creating it if needed. The caller
// must hold m.mu.
func (m *memoryTier) entry(userID string) *cacheEntry {
	e, ok := m.users[userID]
	if !ok {
		e = &cacheEntry{entryCount: -1}
		m.users[userID] = e
	}

	return e
}

// writer returns the per-user write mutex.
func (m *memoryTier) writer(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &m.entry(userID).writeMu
}

// record returns a copy of the held record.
func (m *memoryTier) record(userID string) fn.Option[Record] {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[userID]
	if !ok {
		return fn.None[Record]()
	}

	return cloneOption(e.record)
}

// snapshot returns a consistent view of the user's entry.
func (m *memoryTier) snapshot(userID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[userID]
	if !ok {
		return Snapshot{
			UserID:     userID,
			State:      StateUnloaded,
			Record:     fn.None[Record](),
			EntryCount: -1,
		}
	}

	return Snapshot{
		UserID:     userID,
		State:      e.state,
		Record:     cloneOption(e.record),
		EntryCount: e.entryCount,
		LastErr:    e.lastErr,
	}
}

// noteEntryCount records the live entry count for a user.
func (m *memoryTier) noteEntryCount(userID string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(userID)
	e.entryCount = count
	e.settle()
}

// beginProbe marks a probe as started and returns the sequence number the
// probe's result must be checked against.
func (m *memoryTier) beginProbe(userID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(userID)
	e.probing++
	e.settle()

	return e.seq
}

// endProbe marks a probe as finished, recording its error, if any.
func (m *memoryTier) endProbe(userID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(userID)
	if e.probing > 0 {
		e.probing--
	}
	if err != nil {
		e.lastErr = err
	}
	e.settle()
}

// setGenerating toggles the generating flag.
func (m *memoryTier) setGenerating(userID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(userID)
	e.generating = on
	e.settle()
}

// setError records a failure without touching the held record.
func (m *memoryTier) setError(userID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entry(userID).lastErr = err
}

// adopt installs a record found by a probe that started at seq. A probe
// that was overtaken by a newer write or a clear only wins if its record is
// strictly newer than what is held now. It returns whether the record was
// accepted and whether the held record changed.
func (m *memoryTier) adopt(userID string, rec Record, seq uint64) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(userID)

	var (
		cur    Record
		hasCur bool
	)
	e.record.WhenSome(func(r Record) {
		cur, hasCur = r, true
	})

	if e.seq != seq && (!hasCur || !rec.Newer(cur)) {
		return false, false
	}

	changed := !hasCur || !cur.SameVersion(rec)
	if changed {
		e.record = fn.Some(rec.clone())
		e.seq++
	}
	e.lastErr = nil
	e.settle()

	return true, changed
}

// put installs a record written by this process. Explicit writes always
// replace the held record.
func (m *memoryTier) put(rec Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(rec.UserID)

	changed := true
	e.record.WhenSome(func(r Record) {
		changed = !r.SameVersion(rec)
	})

	e.record = fn.Some(rec.clone())
	e.seq++
	e.lastErr = nil
	e.settle()

	return changed
}

// clearEpoch returns the number of times the user's entry was cleared.
func (m *memoryTier) clearEpoch(userID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entry(userID).epoch
}

// clear drops the held record and supersedes any in-flight probe or
// generation.
func (m *memoryTier) clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(userID)
	e.record = fn.None[Record]()
	e.seq++
	e.epoch++
	e.lastErr = nil
	e.settle()
}

func cloneOption(o fn.Option[Record]) fn.Option[Record] {
	out := fn.None[Record]()
	o.WhenSome(func(r Record) {
		out = fn.Some(r.clone())
	})

	return out
}
