package backend

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate brings the store schema up to date, creating it when the database is
// freshly provisioned. Migrations are embedded per dialect so a library
// consumer never needs migration files on disk.
func Migrate(db *DB) error {
	dir, err := fs.Sub(migrationsFS, "migrations/"+db.Dialect.Name())
	if err != nil {
		return fmt.Errorf("%w: load migrations: %v", ErrBackend, err)
	}

	source, err := iofs.New(dir, ".")
	if err != nil {
		return fmt.Errorf("%w: load migrations: %v", ErrBackend, err)
	}

	var driver database.Driver
	switch db.Dialect.Name() {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(db.SQL, &migratesqlite.Config{})
	case "postgres":
		driver, err = migratepostgres.WithInstance(db.SQL, &migratepostgres.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(db.SQL, &migratemysql.Config{})
	default:
		err = fmt.Errorf("no migration driver for dialect %q", db.Dialect.Name())
	}
	if err != nil {
		return fmt.Errorf("%w: migration driver: %v", ErrBackend, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, db.Dialect.Name(), driver)
	if err != nil {
		return fmt.Errorf("%w: migrations: %v", ErrBackend, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: migrations: %v", ErrBackend, err)
	}
	return nil
}
