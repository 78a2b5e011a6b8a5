package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/roasbeef/insightd/internal/db/sqlc"
)

func newTestStore(t *testing.T, path string) *SqliteStore {
	t.Helper()

	s, err := NewSqliteStore(&SqliteConfig{
		DatabaseFileName:      path,
		SkipMigrationDBBackup: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// TestNewSqliteStoreMigrates tests that a fresh database gets the insight
// schema and that reopening it is a no-op.
func TestNewSqliteStoreMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.db")
	ctx := context.Background()

	s := newTestStore(t, path)

	err := s.UpsertInsight(ctx, sqlc.UpsertInsightParams{
		ID:          "01J",
		UserID:      "alice",
		Milestone:   3,
		Summary:     "s",
		Description: "d",
		ThemesJson:  "[]",
		GeneratedAt: time.Now().UnixNano(),
		UpdatedAt:   time.Now().Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = newTestStore(t, path)
	row, err := s.GetLatestInsight(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 3, row.Milestone)
}

// TestMigrationDowngradeRefused tests that a database newer than this build
// is not touched.
func TestMigrationDowngradeRefused(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "insights.db"))

	err := s.ExecuteMigrations(
		context.Background(), TargetLatest, WithLatestVersion(0),
	)
	require.ErrorIs(t, err, ErrMigrationDowngrade)
}

// TestMigrateDownAndUp tests that the schema can be rolled back and
// reapplied.
func TestMigrateDownAndUp(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "insights.db"))
	ctx := context.Background()

	require.NoError(t, s.ExecuteMigrations(ctx, TargetVersion(0)))
	_, err := s.GetLatestInsight(ctx, "alice")
	require.Error(t, err)
	require.True(t, IsKind(MapSQLError(err), KindSchema))

	require.NoError(t, s.ExecuteMigrations(ctx, TargetLatest))
	_, err = s.GetLatestInsight(ctx, "alice")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

// TestUpsertReplacesMilestone tests that writing the same milestone twice
// keeps one row with the newer content.
func TestUpsertReplacesMilestone(t *testing.T) {
	s := newTestStore(t, InMemoryPath)
	ctx := context.Background()

	params := sqlc.UpsertInsightParams{
		ID:          "a",
		UserID:      "alice",
		Milestone:   6,
		Summary:     "first",
		ThemesJson:  "[]",
		GeneratedAt: 1,
		UpdatedAt:   1,
	}
	require.NoError(t, s.UpsertInsight(ctx, params))

	params.ID, params.Summary, params.GeneratedAt = "b", "second", 2
	require.NoError(t, s.UpsertInsight(ctx, params))

	rows, err := s.ListUserInsights(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "second", rows[0].Summary)
	require.Equal(t, "b", rows[0].ID)

	_, err = s.GetInsightByMilestone(ctx, sqlc.GetInsightByMilestoneParams{
		UserID: "alice", Milestone: 3,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
}

// TestExecTxRetriesBusy tests that a busy database error restarts the
// transaction body and that other errors are returned as is.
func TestExecTxRetriesBusy(t *testing.T) {
	s := newTestStore(t, InMemoryPath)

	exec := NewTransactionExecutor(
		s.BaseDB, func(tx *sql.Tx) *sqlc.Queries {
			return s.Queries.WithTx(tx)
		}, s.log, WithTxRetryDelay(time.Millisecond),
	)

	var attempts int
	err := exec.ExecTx(context.Background(), WriteTxOption(),
		func(q *sqlc.Queries) error {
			attempts++
			if attempts < 3 {
				return sqlite3.Error{Code: sqlite3.ErrBusy}
			}

			_, err := q.CountInsightUsers(context.Background())

			return err
		},
	)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	boom := errors.New("boom")
	err = exec.ExecTx(context.Background(), ReadTxOption(),
		func(*sqlc.Queries) error {
			return boom
		},
	)
	require.ErrorIs(t, err, boom)

	exec = NewTransactionExecutor(
		s.BaseDB, func(tx *sql.Tx) *sqlc.Queries {
			return s.Queries.WithTx(tx)
		}, s.log, WithTxRetries(2), WithTxRetryDelay(time.Millisecond),
	)
	err = exec.ExecTx(context.Background(), WriteTxOption(),
		func(*sqlc.Queries) error {
			return sqlite3.Error{Code: sqlite3.ErrLocked}
		},
	)
	require.ErrorIs(t, err, ErrRetriesExceeded)
}

// TestMapSQLError tests the sqlite error classification.
func TestMapSQLError(t *testing.T) {
	busy := MapSQLError(sqlite3.Error{Code: sqlite3.ErrBusy})
	require.True(t, IsKind(busy, KindBusy))
	require.True(t, IsRetryable(busy))

	locked := MapSQLError(sqlite3.Error{Code: sqlite3.ErrLocked})
	require.True(t, IsRetryable(locked))

	unique := MapSQLError(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintPrimaryKey,
	})
	require.True(t, IsKind(unique, KindUnique))
	require.False(t, IsRetryable(unique))

	var sqlErr *SQLError
	require.ErrorAs(t, MapSQLError(fmt.Errorf("upsert: %w", sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintCheck,
	})), &sqlErr)
	require.Equal(t, KindCheck, sqlErr.Kind)

	plain := errors.New("plain")
	require.Equal(t, plain, MapSQLError(plain))
	require.False(t, IsRetryable(plain))
}
