package insight

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry is the subset of a journal entry consumed by insight generation. The
// entry store owns the full type; only these fields cross the boundary.
type Entry struct {
	ID        string
	Date      time.Time
	Title     string
	Content   string
	WordCount int
	Mood      string
}

// Theme is a single theme annotation attached to an insight.
type Theme struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// UnmarshalJSON accepts either a bare string or an object. The summarization
// service has emitted both shapes, and under several field names.
func (t *Theme) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = Theme{Name: name}

		return nil
	}

	var raw struct {
		Name        string `json:"name"`
		Theme       string `json:"theme"`
		Title       string `json:"title"`
		Detail      string `json:"detail"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = Theme{
		Name:   firstNonEmpty(raw.Name, raw.Theme, raw.Title),
		Detail: firstNonEmpty(raw.Detail, raw.Description),
	}

	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

// Summary is a decoded response from the summarization service.
type Summary struct {
	Summary         string     `json:"summary"`
	Description     string     `json:"description"`
	Themes          []Theme    `json:"themes"`
	EntriesAnalyzed int        `json:"entriesAnalyzed"`
	GeneratedAt     time.Time  `json:"generatedAt"`
	FromCache       bool       `json:"fromCache"`
	CacheExpiresAt  *time.Time `json:"cacheExpiresAt,omitempty"`
}

// Record is an immutable, versioned insight for a single user. A newer
// milestone supersedes a record; records are never edited in place.
type Record struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Summary         string     `json:"summary"`
	Description     string     `json:"description"`
	Themes          []Theme    `json:"themes"`
	EntriesAnalyzed int        `json:"entriesAnalyzed"`
	Milestone       int        `json:"milestone"`
	GeneratedAt     time.Time  `json:"generatedAt"`
	FromCache       bool       `json:"fromCache"`
	CacheExpiresAt  *time.Time `json:"cacheExpiresAt,omitempty"`
}

// NewRecord wraps a summarization response into a record for the given user
// and milestone.
func NewRecord(userID string, milestone int, s Summary) Record {
	generatedAt := s.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	var expires *time.Time
	if s.CacheExpiresAt != nil {
		e := *s.CacheExpiresAt
		expires = &e
	}

	return Record{
		ID:              newRecordID(generatedAt),
		UserID:          userID,
		Summary:         s.Summary,
		Description:     s.Description,
		Themes:          slices.Clone(s.Themes),
		EntriesAnalyzed: s.EntriesAnalyzed,
		Milestone:       milestone,
		GeneratedAt:     generatedAt.UTC(),
		FromCache:       s.FromCache,
		CacheExpiresAt:  expires,
	}
}

// Newer reports whether r was generated strictly after other.
func (r Record) Newer(other Record) bool {
	return r.GeneratedAt.After(other.GeneratedAt)
}

// SameVersion reports whether both records describe the same generation.
func (r Record) SameVersion(other Record) bool {
	return r.Milestone == other.Milestone &&
		r.GeneratedAt.Equal(other.GeneratedAt)
}

// clone returns a deep copy so callers never share the theme slice.
func (r Record) clone() Record {
	r.Themes = slices.Clone(r.Themes)
	if r.CacheExpiresAt != nil {
		e := *r.CacheExpiresAt
		r.CacheExpiresAt = &e
	}

	return r
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newRecordID returns a time-ordered identifier for a record.
func newRecordID(at time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(at), idEntropy).String()
}
