package platform

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunGlobalMigrations applies migrations from the global directory to the
// public schema: the tenant directory and the shared, site-scoped price
// cache.
func RunGlobalMigrations(databaseURL, migrationsDir string) error {
	return runMigrations(databaseURL, migrationsDir)
}

// RunTenantMigrations applies the per-tenant document-table migrations to
// the given tenant schema. The schema must already exist (created by the
// tenant provisioner) before this is called.
func RunTenantMigrations(databaseURL, migrationsDir, schema string) error {
	scoped, err := withSearchPath(databaseURL, schema)
	if err != nil {
		return fmt.Errorf("scoping database URL to schema %q: %w", schema, err)
	}
	return runMigrations(scoped, migrationsDir)
}

func runMigrations(databaseURL, migrationsDir string) error {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsDir),
		databaseURL,
	)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// withSearchPath appends a search_path query parameter to a Postgres
// connection URL so that migrations targeting a tenant schema run against
// that schema (falling back to public for shared lookups).
func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", fmt.Sprintf("%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
