package db

import (
	"context"
	"database/sql"

	"github.com/roasbeef/insightd/internal/db/sqlc"
)

// TxOptions selects the kind of transaction ExecTx opens.
type TxOptions struct {
	ReadOnly bool
}

// ReadTxOption is used for transactions that only select.
func ReadTxOption() TxOptions {
	return TxOptions{ReadOnly: true}
}

// WriteTxOption is used for transactions that modify insight rows.
func WriteTxOption() TxOptions {
	return TxOptions{}
}

// BatchedTx runs several queries of Q in one atomic transaction. Stores
// depend on this rather than on the executor itself.
type BatchedTx[Q any] interface {
	ExecTx(ctx context.Context, opts TxOptions, txBody func(Q) error) error
}

// QueryCreator binds a query set to a transaction.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier is a sqlc.Querier that can also open transactions.
type BatchedQuerier interface {
	sqlc.Querier

	BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error)
}

// BaseDB pairs a connection with the generated queries running on it.
type BaseDB struct {
	*sql.DB
	*sqlc.Queries
}

// NewBaseDB wraps db.
func NewBaseDB(db *sql.DB) *BaseDB {
	return &BaseDB{
		DB:      db,
		Queries: sqlc.New(db),
	}
}

// BeginTx opens a transaction on the connection.
func (b *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx,
	error) {

	return b.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.ReadOnly})
}

var _ BatchedQuerier = (*BaseDB)(nil)
