package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrRetriesExceeded is returned when a transaction kept failing with a
// retryable error.
var ErrRetriesExceeded = errors.New("insight db tx retries exceeded")

// ErrorKind classifies a database failure.
type ErrorKind uint8

const (
	// KindUnique is a unique or primary key violation.
	KindUnique ErrorKind = iota + 1

	// KindCheck is a CHECK or NOT NULL violation, i.e. a malformed row.
	KindCheck

	// KindBusy means another connection holds the database lock.
	KindBusy

	// KindLocked means a table is locked within the same connection.
	KindLocked

	// KindSchema means the schema does not match the query, usually a
	// missing migration.
	KindSchema
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindUnique:
		return "unique violation"
	case KindCheck:
		return "constraint violation"
	case KindBusy:
		return "database busy"
	case KindLocked:
		return "table locked"
	case KindSchema:
		return "schema mismatch"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SQLError is a classified database error.
type SQLError struct {
	Kind ErrorKind
	Err  error
}

// Error returns the error message.
func (e *SQLError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap returns the driver error.
func (e *SQLError) Unwrap() error {
	return e.Err
}

// MapSQLError classifies sqlite driver errors. Other errors are returned
// unchanged.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	kind, ok := sqliteKind(sqliteErr)
	if !ok {
		return fmt.Errorf("sqlite error: %w", sqliteErr)
	}

	return &SQLError{Kind: kind, Err: sqliteErr}
}

func sqliteKind(err sqlite3.Error) (ErrorKind, bool) {
	switch err.Code {
	case sqlite3.ErrConstraint:
		switch err.ExtendedCode {
		case sqlite3.ErrConstraintUnique,
			sqlite3.ErrConstraintPrimaryKey:

			return KindUnique, true

		case sqlite3.ErrConstraintCheck,
			sqlite3.ErrConstraintNotNull:

			return KindCheck, true
		}

	case sqlite3.ErrBusy:
		return KindBusy, true

	case sqlite3.ErrLocked:
		return KindLocked, true

	case sqlite3.ErrError:
		msg := err.Error()
		if strings.Contains(msg, "no such table") ||
			strings.Contains(msg, "no such column") {

			return KindSchema, true
		}
	}

	return 0, false
}

// IsKind reports whether err is a SQLError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var sqlErr *SQLError
	return errors.As(err, &sqlErr) && sqlErr.Kind == kind
}

// IsRetryable reports whether the transaction that failed with err may
// succeed when run again.
func IsRetryable(err error) bool {
	return IsKind(err, KindBusy) || IsKind(err, KindLocked)
}
