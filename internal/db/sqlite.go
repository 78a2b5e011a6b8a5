package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// InMemoryPath opens a private in-memory database.
	InMemoryPath = ":memory:"
)

// SqliteConfig holds the configuration for the sqlite insight database.
type SqliteConfig struct {
	// DatabaseFileName is the full path of the database file.
	DatabaseFileName string

	// SkipMigrations leaves the schema untouched.
	SkipMigrations bool

	// SkipMigrationDBBackup skips the VACUUM INTO backup taken before
	// migrations are applied to an existing file.
	SkipMigrationDBBackup bool
}

// SqliteStore is the sqlite backed insight database.
type SqliteStore struct {
	cfg *SqliteConfig

	log *slog.Logger

	*BaseDB
}

// NewSqliteStore opens the database described by cfg and brings its schema
// up to date.
func NewSqliteStore(cfg *SqliteConfig, log *slog.Logger) (*SqliteStore,
	error) {

	if log == nil {
		log = slog.Default()
	}

	db, err := OpenSQLite(cfg.DatabaseFileName)
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{
		cfg:    cfg,
		log:    log,
		BaseDB: NewBaseDB(db),
	}

	if cfg.SkipMigrations {
		return s, nil
	}

	var opts []MigrateOpt
	if !cfg.SkipMigrationDBBackup && cfg.DatabaseFileName != InMemoryPath {
		opts = append(opts, WithBackup(func(ctx context.Context) error {
			return backupSqliteDatabase(
				ctx, db, cfg.DatabaseFileName, log,
			)
		}))
	}

	err = s.ExecuteMigrations(context.Background(), TargetLatest, opts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error executing migrations: %w", err)
	}

	return s, nil
}

// ExecuteMigrations runs migrations for the sqlite database up to the given
// target.
func (s *SqliteStore) ExecuteMigrations(ctx context.Context,
	target MigrationTarget, optFuncs ...MigrateOpt) error {

	opts := migrateOptions{latestVersion: LatestMigrationVersion}
	for _, optFunc := range optFuncs {
		optFunc(&opts)
	}

	driver, err := sqlite_migrate.WithInstance(
		s.BaseDB.DB, &sqlite_migrate.Config{},
	)
	if err != nil {
		return fmt.Errorf("error creating sqlite migration: %w", err)
	}

	return applyMigrations(
		ctx, sqlSchemas, "migrations", driver, target, opts, s.log,
	)
}

// Close closes the underlying database.
func (s *SqliteStore) Close() error {
	return s.BaseDB.DB.Close()
}

// OpenSQLite opens a SQLite database connection with WAL mode enabled and
// appropriate pragmas for performance and reliability.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	dsn := InMemoryPath
	if dbPath != InMemoryPath {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database "+
				"directory: %w", err)
		}

		dsn = fmt.Sprintf(
			"file:%s?_journal_mode=WAL&_busy_timeout=5000",
			dbPath,
		)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer. This also keeps an in-memory database on one
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return db, nil
}

// configurePragmas sets additional SQLite pragmas.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		// NORMAL is durable enough under WAL.
		"PRAGMA synchronous = NORMAL",

		// Negative value is in KiB, so 16MB.
		"PRAGMA cache_size = -16384",

		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		_, err := db.ExecContext(context.Background(), pragma)
		if err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
