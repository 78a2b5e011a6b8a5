package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// LatestMigrationVersion is the newest insight schema version. It MUST be
// bumped together with every new migration file.
const LatestMigrationVersion uint = 1

// ErrMigrationDowngrade is returned for a database whose schema is newer
// than this build knows about.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// MigrationTarget moves the schema to the wanted version.
type MigrationTarget func(mig *migrate.Migrate) error

// TargetLatest migrates all the way up.
func TargetLatest(mig *migrate.Migrate) error {
	return mig.Up()
}

// TargetVersion migrates up or down to version. Version 0 removes the
// schema.
func TargetVersion(version uint) MigrationTarget {
	return func(mig *migrate.Migrate) error {
		if version == 0 {
			return mig.Down()
		}

		return mig.Migrate(version)
	}
}

type migrateOptions struct {
	latestVersion uint

	// beforeUpgrade runs once before a versioned database is moved to a
	// newer schema.
	beforeUpgrade func(ctx context.Context) error
}

// MigrateOpt tweaks a migration run.
type MigrateOpt func(*migrateOptions)

// WithLatestVersion overrides LatestMigrationVersion.
func WithLatestVersion(version uint) MigrateOpt {
	return func(o *migrateOptions) {
		o.latestVersion = version
	}
}

// WithBackup runs backup before an existing schema is upgraded. Fresh
// databases are not backed up.
func WithBackup(backup func(ctx context.Context) error) MigrateOpt {
	return func(o *migrateOptions) {
		o.beforeUpgrade = backup
	}
}

// migrationLogger routes golang-migrate output to slog at debug level.
type migrationLogger struct {
	log *slog.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	m.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (m *migrationLogger) Verbose() bool {
	return m.log.Enabled(context.Background(), slog.LevelDebug)
}

// applyMigrations runs the migration files under dir of fsys against
// driver.
func applyMigrations(ctx context.Context, fsys fs.FS, dir string,
	driver database.Driver, target MigrationTarget, opts migrateOptions,
	log *slog.Logger) error {

	src, err := httpfs.New(http.FS(fsys), dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	mig, err := migrate.NewWithInstance("migrations", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	mig.Log = &migrationLogger{log: log}

	version, dirty, err := mig.Version()
	fresh := errors.Is(err, migrate.ErrNilVersion)
	switch {
	case err != nil && !fresh:
		return fmt.Errorf("read schema version: %w", err)

	case dirty:
		return fmt.Errorf("schema version %d is dirty, a previous "+
			"migration stopped half way", version)

	// Down migrations drop insight rows, so a newer schema is refused.
	case version > opts.latestVersion:
		return fmt.Errorf("%w: db_version=%d latest_version=%d",
			ErrMigrationDowngrade, version, opts.latestVersion)
	}

	if !fresh && version < opts.latestVersion && opts.beforeUpgrade != nil {
		if err := opts.beforeUpgrade(ctx); err != nil {
			return fmt.Errorf("backup before migration: %w", err)
		}
	}

	log.InfoContext(ctx, "Applying insight schema migrations",
		"db_version", version, "latest_version", opts.latestVersion,
	)

	err = target(mig)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, _, err = mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.InfoContext(ctx, "Insight schema ready", "db_version", version)

	return nil
}

// backupSqliteDatabase copies the database next to itself with VACUUM
// INTO.
func backupSqliteDatabase(ctx context.Context, src *sql.DB, path string,
	log *slog.Logger) error {

	backup := fmt.Sprintf("%s.%d.backup", path, time.Now().UnixNano())

	log.InfoContext(ctx, "Backing up insight database",
		"source", path, "backup", backup,
	)

	_, err := src.ExecContext(ctx, "VACUUM INTO ?;", backup)

	return err
}
