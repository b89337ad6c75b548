// Package store is the single embedded relational state store described in
// spec.md section 4.1. It is grounded on the gateway's pkg/db: one
// modernc.org/sqlite file opened through jmoiron/sqlx, migrated with
// golang-migrate/migrate/v4 behind a gofrs/flock cross-process lock, with
// writes serialized through a single *sql.DB connection (SetMaxOpenConns(1))
// while readers may open an independent handle.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/allowlist"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type options struct {
	dbFile              string
	migrationsFS        fs.FS
	migrationsPath      string
	allowed             *allowlist.List
	credentialRetention time.Duration
	jobRetention        time.Duration
}

// Option configures New, following the functional-options shape of
// pkg/db.Option.
type Option func(*options)

func WithDatabaseFile(dbFile string) Option {
	return func(o *options) { o.dbFile = dbFile }
}

func WithMigrations(filesystem fs.FS, path string) Option {
	return func(o *options) {
		o.migrationsFS = filesystem
		o.migrationsPath = path
	}
}

// WithEndpointAllowlist supplies the outbound endpoint allowlist consulted
// by IsEndpointAllowed. The composition root is responsible for reading it
// from configuration; the store never reads the environment itself.
func WithEndpointAllowlist(l *allowlist.List) Option {
	return func(o *options) { o.allowed = l }
}

// WithCredentialRetention overrides how long an expired credential is kept
// before GCExpired deletes it. Defaults to DefaultCredentialRetention.
func WithCredentialRetention(d time.Duration) Option {
	return func(o *options) { o.credentialRetention = d }
}

// WithJobRetention overrides how long a finished job is kept before
// GCExpired deletes it. Defaults to DefaultJobRetention.
func WithJobRetention(d time.Duration) Option {
	return func(o *options) { o.jobRetention = d }
}

// DefaultCredentialRetention is the default time a credential survives past
// its expires_at before GCExpired removes it, per spec.md section 4.1.
const DefaultCredentialRetention = 30 * 24 * time.Hour

// DefaultJobRetention is the default time a finished job survives before
// GCExpired removes it, per spec.md section 4.1.
const DefaultJobRetention = 24 * time.Hour

// DefaultDatabaseFilename returns the default persistent state path,
// data/state.db, per spec.md section 6.
func DefaultDatabaseFilename() string {
	return filepath.Join("data", "state.db")
}

// Store is the typed CRUD + maintenance surface every component depends
// on. It is assembled from embedded per-entity files (login_session.go,
// credential.go, ...), mirroring pkg/db's WorkingSetDAO/PullRecordDAO split.
type Store struct {
	write               *sqlx.DB
	read                *sqlx.DB
	now                 func() time.Time
	allowed             *allowlist.List
	credentialRetention time.Duration
	jobRetention        time.Duration
}

func New(opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dbFile == "" {
		o.dbFile = DefaultDatabaseFilename()
	}
	ensureDirectoryExists(o.dbFile)

	dsn := "file:" + o.dbFile + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	writeConn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	migrationsFS := o.migrationsFS
	if migrationsFS == nil {
		migrationsFS = &migrations
	}
	migrationsPath := o.migrationsPath
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}

	if err := runMigrations(o.dbFile, writeConn, migrationsFS, migrationsPath); err != nil {
		return nil, err
	}

	readConn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening read connection: %w", err)
	}

	allowed := o.allowed
	if allowed == nil {
		allowed = allowlist.Parse("")
	}

	credentialRetention := o.credentialRetention
	if credentialRetention == 0 {
		credentialRetention = DefaultCredentialRetention
	}
	jobRetention := o.jobRetention
	if jobRetention == 0 {
		jobRetention = DefaultJobRetention
	}

	return &Store{
		write:               sqlx.NewDb(writeConn, "sqlite"),
		read:                sqlx.NewDb(readConn, "sqlite"),
		now:                 time.Now,
		allowed:             allowed,
		credentialRetention: credentialRetention,
		jobRetention:        jobRetention,
	}, nil
}

func (s *Store) Close() error {
	werr := s.write.Close()
	rerr := s.read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func ensureDirectoryExists(path string) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		_ = os.MkdirAll(dir, 0o755)
	}
}

func txClose(tx *sqlx.Tx, err *error) {
	if err == nil || *err == nil {
		return
	}
	if txerr := tx.Rollback(); txerr != nil {
		obslog.Logf("failed to rollback transaction: %v", txerr)
	}
}

func runMigrations(dbFile string, db *sql.DB, migrationsFS fs.FS, migrationsPath string) error {
	migDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return err
	}
	defer migDriver.Close()

	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return err
	}

	mig, err := migrate.NewWithInstance("iofs", migDriver, "sqlite", driver)
	if err != nil {
		return err
	}

	lockFile := filepath.Join(filepath.Dir(dbFile), ".mcpfleet-migration.lock")
	fileLock := flock.New(lockFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timeout waiting for migration lock")
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			obslog.Logf("failed to unlock migration lock: %v", err)
		}
	}()

	version, dirty, err := mig.Version()
	isFreshDatabase := errors.Is(err, migrate.ErrNilVersion)
	if err != nil && !isFreshDatabase {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d, manual intervention required", version)
	}
	if !isFreshDatabase {
		_, _, err = migDriver.ReadUp(version)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database version %d (%s) is ahead of the current binary; upgrade required", version, dbFile)
		}
		if err != nil {
			return fmt.Errorf("failed to read migration file for version %d: %w", version, err)
		}
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
