package db

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/artos/internal/monitoring"
)

// SchemaVersion is the index schema the embedded migrations produce.
const SchemaVersion = 2

// ErrDirtyIndex is returned when an index file was left half migrated by an
// interrupted process. Delete the file; it is rebuilt from the word list.
var ErrDirtyIndex = errors.New("synset index is in a dirty migration state")

var indexLog = monitoring.Component("Index", "", false)

// MigrateUp brings the schema to the newest migration in src. An index that
// is already current is left untouched.
func (db *DB) MigrateUp(src fs.FS) error {
	m, err := db.migrator(src)
	if err != nil {
		return err
	}
	from, dirty, err := db.version(m)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w: %s at version %d", ErrDirtyIndex, db.path, from)
	}
	// m is not closed: that would close db.DB as well
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to migrate index: %w", err)
	}
	to, _, _ := db.version(m)
	indexLog.Printf("migrated %s from schema %d to %d", db.describe(), from, to)
	return nil
}

// MigrateDown reverts the newest applied migration.
func (db *DB) MigrateDown(src fs.FS) error {
	m, err := db.migrator(src)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert index migration: %w", err)
	}
	return nil
}

// MigrateVersion reports the applied schema version; 0 means none.
func (db *DB) MigrateVersion(src fs.FS) (uint, bool, error) {
	m, err := db.migrator(src)
	if err != nil {
		return 0, false, err
	}
	return db.version(m)
}

func (db *DB) version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (db *DB) describe() string {
	if db.path == "" {
		return "index"
	}
	return db.path
}

func (db *DB) migrator(src fs.FS) (*migrate.Migrate, error) {
	files, err := iofs.New(src, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read index migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to wrap index for migration: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", files, "sqlite", driver)
	if err != nil {
		return nil, err
	}
	m.Log = indexLogger{}
	return m, nil
}

// indexLogger forwards golang-migrate output to the debug log.
type indexLogger struct{}

func (indexLogger) Printf(format string, v ...interface{}) {
	indexLog.Debugf(format, v...)
}

func (indexLogger) Verbose() bool { return false }
