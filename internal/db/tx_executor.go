package db

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	// DefaultNumTxRetries is how often a transaction failing with a busy
	// or locked database is attempted.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the base delay before the first retry.
	// Each wait is jittered to 50%-150% of the base, which doubles per
	// attempt up to DefaultMaxRetryDelay.
	DefaultInitialRetryDelay = 40 * time.Millisecond

	// DefaultMaxRetryDelay caps the wait between attempts.
	DefaultMaxRetryDelay = 3 * time.Second
)

// retryPolicy is the backoff of a TransactionExecutor.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// delay returns the jittered wait after the given failed attempt.
func (p retryPolicy) delay(attempt int) time.Duration {
	base := p.baseDelay
	if base <= 0 {
		return 0
	}

	d := base/2 + rand.N(base)
	for i := 0; i < attempt && d < p.maxDelay; i++ {
		d *= 2
	}

	return min(d, p.maxDelay)
}

// TxExecutorOption tweaks the retry policy of a TransactionExecutor.
type TxExecutorOption func(*retryPolicy)

// WithTxRetries sets how often a retryable transaction is attempted.
func WithTxRetries(n int) TxExecutorOption {
	return func(p *retryPolicy) {
		p.attempts = n
	}
}

// WithTxRetryDelay sets the base retry delay.
func WithTxRetryDelay(d time.Duration) TxExecutorOption {
	return func(p *retryPolicy) {
		p.baseDelay = d
	}
}

// TransactionExecutor runs bodies over the query set Q inside database
// transactions, restarting them when sqlite reports a busy or locked
// database.
type TransactionExecutor[Q any] struct {
	db          BatchedQuerier
	createQuery QueryCreator[Q]
	policy      retryPolicy
	log         *slog.Logger
}

// NewTransactionExecutor creates an executor over db.
func NewTransactionExecutor[Q any](db BatchedQuerier,
	createQuery QueryCreator[Q], log *slog.Logger,
	opts ...TxExecutorOption) *TransactionExecutor[Q] {

	if log == nil {
		log = slog.Default()
	}

	policy := retryPolicy{
		attempts:  DefaultNumTxRetries,
		baseDelay: DefaultInitialRetryDelay,
		maxDelay:  DefaultMaxRetryDelay,
	}
	for _, opt := range opts {
		opt(&policy)
	}

	return &TransactionExecutor[Q]{
		db:          db,
		createQuery: createQuery,
		policy:      policy,
		log:         log,
	}
}

// ExecTx runs txBody in one transaction and commits it. A retryable
// failure of any step reruns the whole body; other failures are returned
// classified by MapSQLError.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context, opts TxOptions,
	txBody func(Q) error) error {

	for attempt := 0; attempt < t.policy.attempts; attempt++ {
		err := t.runOnce(ctx, opts, txBody)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		wait := t.policy.delay(attempt)
		t.log.DebugContext(ctx, "Retrying insight transaction",
			"attempt", attempt+1, "delay", wait, "error", err,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

func (t *TransactionExecutor[Q]) runOnce(ctx context.Context, opts TxOptions,
	txBody func(Q) error) error {

	tx, err := t.db.BeginTx(ctx, opts)
	if err != nil {
		return MapSQLError(err)
	}

	if err := txBody(t.createQuery(tx)); err != nil {
		_ = tx.Rollback()
		return MapSQLError(err)
	}

	return MapSQLError(tx.Commit())
}

var _ BatchedTx[any] = (*TransactionExecutor[any])(nil)
