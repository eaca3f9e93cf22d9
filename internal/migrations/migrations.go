// Package migrations applies the loader schema with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
)

//go:embed sql/*.sql
var files embed.FS

// Table is the bookkeeping table golang-migrate uses for this schema.
const Table = "loader_schema_migrations"

// DatabaseURL returns databaseURL with the migrations table parameter set,
// so the loader's version history stays separate from other schemas in the
// same database.
func DatabaseURL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("x-migrations-table", Table)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Up applies every pending migration. When dir is empty the embedded files
// are used, otherwise migrations are read from that directory.
func Up(databaseURL, dir string) error {
	dbURL, err := DatabaseURL(databaseURL)
	if err != nil {
		return err
	}

	var m *migrate.Migrate
	if dir == "" {
		src, err := iofs.New(files, "sql")
		if err != nil {
			return fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, dbURL)
		if err != nil {
			return fmt.Errorf("failed to init migrations: %w", err)
		}
	} else {
		m, err = migrate.New("file://"+dir, dbURL)
		if err != nil {
			return fmt.Errorf("failed to init migrations from %s: %w", dir, err)
		}
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("[Migrate] Schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logger.Info("[Migrate] Schema migrated", "version", version, "dirty", dirty)
	return nil
}
