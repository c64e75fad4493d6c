package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/internal/platform"
)

var slugRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// Store abstracts tenant directory CRUD so provisioning does not hardcode
// a single query shape.
type Store interface {
	CreateTenant(ctx context.Context, name, slug string) (id uuid.UUID, apiKey string, err error)
	DeleteTenant(ctx context.Context, id uuid.UUID) error
}

// DefaultStore provides a raw-SQL Store implementation.
type DefaultStore struct {
	Pool *pgxpool.Pool
}

func (s *DefaultStore) CreateTenant(ctx context.Context, name, slug string) (uuid.UUID, string, error) {
	var id uuid.UUID
	var apiKey string
	err := s.Pool.QueryRow(ctx,
		"INSERT INTO public.tenants (name, slug) VALUES ($1, $2) RETURNING id, api_key",
		name, slug,
	).Scan(&id, &apiKey)
	return id, apiKey, err
}

func (s *DefaultStore) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, "DELETE FROM public.tenants WHERE id = $1", id)
	return err
}

// Provisioner creates new tenants with their own database schema and applies
// the per-tenant document-table migrations to it.
type Provisioner struct {
	DB            *pgxpool.Pool
	Store         Store // if nil, uses DefaultStore with raw SQL
	DatabaseURL   string
	MigrationsDir string
	Logger        *slog.Logger
}

func (p *Provisioner) store() Store {
	if p.Store != nil {
		return p.Store
	}
	return &DefaultStore{Pool: p.DB}
}

// Provision creates a new tenant: inserts the directory row, creates the
// schema, and runs tenant migrations.
func (p *Provisioner) Provision(ctx context.Context, name, slug string) (*Info, error) {
	if !slugRegex.MatchString(slug) {
		return nil, fmt.Errorf("invalid tenant slug: %q", slug)
	}

	tenantID, apiKey, err := p.store().CreateTenant(ctx, name, slug)
	if err != nil {
		return nil, fmt.Errorf("inserting tenant: %w", err)
	}

	schema := SchemaName(slug)

	if _, err := p.DB.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		_ = p.store().DeleteTenant(ctx, tenantID)
		return nil, fmt.Errorf("creating schema %s: %w", schema, err)
	}

	if err := platform.RunTenantMigrations(p.DatabaseURL, p.MigrationsDir, schema); err != nil {
		_, _ = p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		_ = p.store().DeleteTenant(ctx, tenantID)
		return nil, fmt.Errorf("running tenant migrations: %w", err)
	}

	p.Logger.Info("tenant provisioned",
		"tenant_id", tenantID,
		"slug", slug,
		"schema", schema,
	)

	return &Info{
		ID:     tenantID,
		Name:   name,
		Slug:   slug,
		Schema: schema,
		APIKey: apiKey,
	}, nil
}

// Deprovision drops the tenant schema and removes the directory record.
func (p *Provisioner) Deprovision(ctx context.Context, slug string) error {
	schema := SchemaName(slug)

	if _, err := p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}

	var tenantID uuid.UUID
	err := p.DB.QueryRow(ctx,
		"SELECT id FROM public.tenants WHERE slug = $1", slug,
	).Scan(&tenantID)
	if err != nil {
		return fmt.Errorf("looking up tenant %q: %w", slug, err)
	}

	if err := p.store().DeleteTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("deleting tenant record: %w", err)
	}

	p.Logger.Info("tenant deprovisioned", "slug", slug, "schema", schema)
	return nil
}
