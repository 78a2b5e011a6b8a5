// Package kvstore is the on-device namespaced key/value store used as the
// local insight tier. It is a single sqlite table driven through the pure Go
// driver so the local tier never needs cgo.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);`

// Store is a sqlite backed key/value store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path. The parent directory is created
// when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"

	return open(dsn)
}

// OpenMemory opens a private in-memory store.
func OpenMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}

	// One connection keeps :memory: on a single database and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value under namespace/key, or None.
func (s *Store) Get(ctx context.Context, namespace,
	key string) (fn.Option[[]byte], error) {

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[[]byte](), nil

	case err != nil:
		return fn.None[[]byte](), fmt.Errorf("kv get %s/%s: %w",
			namespace, key, err)
	}

	return fn.Some(value), nil
}

// Put stores value under namespace/key.
func (s *Store) Put(ctx context.Context, namespace, key string,
	value []byte) error {

	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("kv put %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Delete removes namespace/key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("kv delete %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Keys lists the keys of a namespace in key order.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string,
	error) {

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE namespace = ? ORDER BY key`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("kv keys %s: %w", namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
