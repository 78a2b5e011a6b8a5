package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roasbeef/insightd/internal/db/sqlc"
	"github.com/roasbeef/insightd/internal/insight"
)

// InsightQueries is the subset of the generated queries the insight store
// runs inside a transaction.
type InsightQueries interface {
	UpsertInsight(ctx context.Context, arg sqlc.UpsertInsightParams) error

	GetInsightByMilestone(ctx context.Context,
		arg sqlc.GetInsightByMilestoneParams) (sqlc.Insight, error)

	GetLatestInsight(ctx context.Context, userID string) (sqlc.Insight,
		error)

	GetLatestInsightAtOrBelow(ctx context.Context,
		arg sqlc.GetLatestInsightAtOrBelowParams) (sqlc.Insight, error)

	ListUserInsights(ctx context.Context, userID string) ([]sqlc.Insight,
		error)

	DeleteInsight(ctx context.Context, arg sqlc.DeleteInsightParams) (int64,
		error)

	DeleteUserInsights(ctx context.Context, userID string) (int64, error)

	CountInsightUsers(ctx context.Context) (int64, error)
}

// Storage is the shared insight table plus the read helpers used by the
// operator surfaces.
type Storage interface {
	insight.RemoteStore

	// ListInsights returns every record of a user, highest milestone
	// first.
	ListInsights(ctx context.Context, userID string) ([]insight.Record,
		error)

	// UserCount returns the number of users with at least one record.
	UserCount(ctx context.Context) (int, error)

	// Close releases the backing database.
	Close() error
}

// ToSqlcNullInt64 converts an optional time to unix nanoseconds.
func ToSqlcNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// FromSqlcNullInt64 is the inverse of ToSqlcNullInt64.
func FromSqlcNullInt64(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := time.Unix(0, v.Int64).UTC()

	return &t
}

// upsertParams maps a record onto the insert parameters.
func upsertParams(rec insight.Record, now time.Time) (sqlc.UpsertInsightParams,
	error) {

	themes := rec.Themes
	if themes == nil {
		themes = []insight.Theme{}
	}
	themesJSON, err := json.Marshal(themes)
	if err != nil {
		return sqlc.UpsertInsightParams{}, fmt.Errorf("encode themes: %w",
			err)
	}

	return sqlc.UpsertInsightParams{
		ID:              rec.ID,
		UserID:          rec.UserID,
		Milestone:       int64(rec.Milestone),
		Summary:         rec.Summary,
		Description:     rec.Description,
		ThemesJson:      string(themesJSON),
		EntriesAnalyzed: int64(rec.EntriesAnalyzed),
		GeneratedAt:     rec.GeneratedAt.UnixNano(),
		FromCache:       rec.FromCache,
		CacheExpiresAt:  ToSqlcNullInt64(rec.CacheExpiresAt),
		UpdatedAt:       now.Unix(),
	}, nil
}

// RecordFromSqlc converts a row into a record. A row whose themes cannot be
// decoded is reported as a DecodeError.
func RecordFromSqlc(row sqlc.Insight) (insight.Record, error) {
	var themes []insight.Theme
	if row.ThemesJson != "" {
		err := json.Unmarshal([]byte(row.ThemesJson), &themes)
		if err != nil {
			return insight.Record{}, &insight.DecodeError{
				Details: fmt.Sprintf("themes of %s/%d",
					row.UserID, row.Milestone),
				Err: err,
			}
		}
	}

	return insight.Record{
		ID:              row.ID,
		UserID:          row.UserID,
		Summary:         row.Summary,
		Description:     row.Description,
		Themes:          themes,
		EntriesAnalyzed: int(row.EntriesAnalyzed),
		Milestone:       int(row.Milestone),
		GeneratedAt:     time.Unix(0, row.GeneratedAt).UTC(),
		FromCache:       row.FromCache,
		CacheExpiresAt:  FromSqlcNullInt64(row.CacheExpiresAt),
	}, nil
}
