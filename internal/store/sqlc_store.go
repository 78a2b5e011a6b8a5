package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/insightd/internal/db"
	"github.com/roasbeef/insightd/internal/db/sqlc"
	"github.com/roasbeef/insightd/internal/insight"
	"github.com/roasbeef/insightd/internal/notify"
)

// SqlcStore is the shared insight table on top of the sqlite database. Every
// committed write is announced on the publisher so other devices refresh.
type SqlcStore struct {
	sqlite *db.SqliteStore

	txs *db.TransactionExecutor[InsightQueries]

	pub notify.Publisher

	log *slog.Logger

	now func() time.Time
}

// A compile-time check that SqlcStore is usable as the remote tier.
var _ Storage = (*SqlcStore)(nil)

// NewSqlcStore wraps an opened database. pub may be nil when no device needs
// change events.
func NewSqlcStore(sqlite *db.SqliteStore, pub notify.Publisher,
	log *slog.Logger) *SqlcStore {

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "insight_store")

	createQuery := func(tx *sql.Tx) InsightQueries {
		return sqlite.Queries.WithTx(tx)
	}

	return &SqlcStore{
		sqlite: sqlite,
		txs: db.NewTransactionExecutor(
			sqlite.BaseDB, createQuery, log,
		),
		pub: pub,
		log: log,
		now: time.Now,
	}
}

// Close closes the underlying database connection.
func (s *SqlcStore) Close() error {
	return s.sqlite.Close()
}

// UpsertInsight writes the record, replacing the row of the same milestone.
func (s *SqlcStore) UpsertInsight(ctx context.Context,
	rec insight.Record) error {

	if err := validateKey(rec.UserID, rec.Milestone); err != nil {
		return err
	}

	params, err := upsertParams(rec, s.now())
	if err != nil {
		return err
	}

	err = s.txs.ExecTx(ctx, db.WriteTxOption(), func(q InsightQueries) error {
		return q.UpsertInsight(ctx, params)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert insight: %w", err)
	}

	s.publish(notify.Event{
		UserID:    rec.UserID,
		Milestone: rec.Milestone,
		Kind:      notify.KindUpsert,
	})

	return nil
}

// InsightByMilestone returns the record for one exact milestone.
func (s *SqlcStore) InsightByMilestone(ctx context.Context, userID string,
	milestone int) (fn.Option[insight.Record], error) {

	return s.readOne(ctx, func(q InsightQueries) (sqlc.Insight, error) {
		return q.GetInsightByMilestone(
			ctx, sqlc.GetInsightByMilestoneParams{
				UserID:    userID,
				Milestone: int64(milestone),
			},
		)
	})
}

// LatestInsight returns the record with the highest milestone, at or below
// maxMilestone when it is positive.
func (s *SqlcStore) LatestInsight(ctx context.Context, userID string,
	maxMilestone int) (fn.Option[insight.Record], error) {

	return s.readOne(ctx, func(q InsightQueries) (sqlc.Insight, error) {
		if maxMilestone <= 0 {
			return q.GetLatestInsight(ctx, userID)
		}

		return q.GetLatestInsightAtOrBelow(
			ctx, sqlc.GetLatestInsightAtOrBelowParams{
				UserID:    userID,
				Milestone: int64(maxMilestone),
			},
		)
	})
}

// ListInsights returns every record of a user, highest milestone first.
func (s *SqlcStore) ListInsights(ctx context.Context,
	userID string) ([]insight.Record, error) {

	var rows []sqlc.Insight
	err := s.txs.ExecTx(ctx, db.ReadTxOption(), func(q InsightQueries) error {
		var err error
		rows, err = q.ListUserInsights(ctx, userID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}

	recs := make([]insight.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := RecordFromSqlc(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

// UserCount returns the number of users with at least one record.
func (s *SqlcStore) UserCount(ctx context.Context) (int, error) {
	var n int64
	err := s.txs.ExecTx(ctx, db.ReadTxOption(), func(q InsightQueries) error {
		var err error
		n, err = q.CountInsightUsers(ctx)

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count insight users: %w", err)
	}

	return int(n), nil
}

// DeleteInsight removes the record for one milestone.
func (s *SqlcStore) DeleteInsight(ctx context.Context, userID string,
	milestone int) error {

	var n int64
	err := s.txs.ExecTx(ctx, db.WriteTxOption(), func(q InsightQueries) error {
		var err error
		n, err = q.DeleteInsight(ctx, sqlc.DeleteInsightParams{
			UserID:    userID,
			Milestone: int64(milestone),
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete insight: %w", err)
	}

	if n > 0 {
		s.publish(notify.Event{
			UserID:    userID,
			Milestone: milestone,
			Kind:      notify.KindDelete,
		})
	}

	return nil
}

// DeleteUserInsights removes every record of a user.
func (s *SqlcStore) DeleteUserInsights(ctx context.Context,
	userID string) error {

	var n int64
	err := s.txs.ExecTx(ctx, db.WriteTxOption(), func(q InsightQueries) error {
		var err error
		n, err = q.DeleteUserInsights(ctx, userID)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete user insights: %w", err)
	}

	s.log.DebugContext(ctx, "Deleted user insights",
		"user_id", userID, "rows", n,
	)

	if n > 0 {
		s.publish(notify.Event{UserID: userID, Kind: notify.KindDelete})
	}

	return nil
}

// readOne runs a single-row query and maps a missing row to None.
func (s *SqlcStore) readOne(ctx context.Context,
	query func(InsightQueries) (sqlc.Insight, error)) (
	fn.Option[insight.Record], error) {

	var (
		row   sqlc.Insight
		found bool
	)
	err := s.txs.ExecTx(ctx, db.ReadTxOption(), func(q InsightQueries) error {
		var err error
		row, err = query(q)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			found = false
			return nil

		case err != nil:
			return err
		}
		found = true

		return nil
	})
	if err != nil {
		return fn.None[insight.Record](), fmt.Errorf("failed to read "+
			"insight: %w", err)
	}
	if !found {
		return fn.None[insight.Record](), nil
	}

	rec, err := RecordFromSqlc(row)
	if err != nil {
		return fn.None[insight.Record](), err
	}

	return fn.Some(rec), nil
}

func (s *SqlcStore) publish(ev notify.Event) {
	if s.pub == nil {
		return
	}

	ev.At = s.now().UTC()
	s.pub.Publish(ev)
}

// validateKey checks the (user id, milestone) key of a write.
func validateKey(userID string, milestone int) error {
	if userID == "" {
		return &insight.ValidationError{
			Field:  "user_id",
			Reason: "must not be empty",
		}
	}
	if milestone <= 0 {
		return &insight.ValidationError{
			Field:  "milestone",
			Reason: fmt.Sprintf("must be positive, got %d", milestone),
		}
	}

	return nil
}
