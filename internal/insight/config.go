package insight

import "time"

const (
	// DefaultGenerationTimeout bounds a single summarization call.
	DefaultGenerationTimeout = 45 * time.Second

	// DefaultTierTimeout bounds a single local or remote tier operation.
	DefaultTierTimeout = 5 * time.Second

	// DefaultMaxEntries is the number of most recent entries sent to the
	// summarization service.
	DefaultMaxEntries = 20

	// DefaultSummaryMaxChars is the maximum length of a record summary.
	DefaultSummaryMaxChars = 140

	// DefaultDescriptionMinWords is the lower bound of the expected
	// description length.
	DefaultDescriptionMinWords = 150

	// DefaultDescriptionMaxWords is the upper bound of the expected
	// description length.
	DefaultDescriptionMaxWords = 180

	// DefaultResubscribeDelay is how long the sync listener waits before
	// retrying a failed subscription.
	DefaultResubscribeDelay = 5 * time.Second
)

const (
	// RecordNamespace is the local store namespace holding one record per
	// user id.
	RecordNamespace = "insights"

	// LegacyNamespace holds the unscoped record written before records
	// were stored per user. It is kept apart from RecordNamespace so no
	// user id can collide with the legacy key.
	LegacyNamespace = "legacy"

	// LegacyRecordKey is the unscoped key used before records were
	// stored per user.
	LegacyRecordKey = "insight_cache"

	// MetaNamespace holds process-wide flags.
	MetaNamespace = "meta"

	// LegacyMigratedKey is the flag set once the legacy record has been
	// moved into the per-user scheme.
	LegacyMigratedKey = "insight_legacy_migrated"
)

// Config holds configuration for the insight service.
type Config struct {
	// GenerationTimeout bounds a single summarization call. It is always
	// applied; a zero value falls back to DefaultGenerationTimeout.
	GenerationTimeout time.Duration

	// TierTimeout bounds local and remote tier operations.
	TierTimeout time.Duration

	// MaxEntries caps the entries sent for summarization.
	MaxEntries int

	// SummaryMaxChars is the maximum summary length kept on a record.
	SummaryMaxChars int

	// DescriptionMinWords and DescriptionMaxWords bound the expected
	// description length. Out of range descriptions are logged.
	DescriptionMinWords int
	DescriptionMaxWords int

	// MigrateOnLoad runs the legacy migration on the first load for a
	// user.
	MigrateOnLoad bool

	// PruneSuperseded deletes the remote row of the previous milestone
	// after a newer record was written. Keeping old rows lets a user whose
	// entries were deleted fall back to an earlier insight.
	PruneSuperseded bool

	// ResubscribeDelay is the backoff between change feed subscription
	// attempts.
	ResubscribeDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GenerationTimeout:   DefaultGenerationTimeout,
		TierTimeout:         DefaultTierTimeout,
		MaxEntries:          DefaultMaxEntries,
		SummaryMaxChars:     DefaultSummaryMaxChars,
		DescriptionMinWords: DefaultDescriptionMinWords,
		DescriptionMaxWords: DefaultDescriptionMaxWords,
		MigrateOnLoad:       true,
		ResubscribeDelay:    DefaultResubscribeDelay,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = def.GenerationTimeout
	}
	if c.TierTimeout <= 0 {
		c.TierTimeout = def.TierTimeout
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = def.MaxEntries
	}
	if c.SummaryMaxChars <= 0 {
		c.SummaryMaxChars = def.SummaryMaxChars
	}
	if c.DescriptionMinWords <= 0 {
		c.DescriptionMinWords = def.DescriptionMinWords
	}
	if c.DescriptionMaxWords <= 0 {
		c.DescriptionMaxWords = def.DescriptionMaxWords
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = def.ResubscribeDelay
	}

	return c
}
