package store

import (
	"context"
	"fmt"

	"github.com/solarctl/solarctl/internal/tenant"
	"github.com/solarctl/solarctl/pkg/automation"
)

// SlugForAPIKey implements tenant.APIKeyLookup: resolves the tenant slug
// owning apiKey, for the HTTP collaborator's request authentication.
func (s *Store) SlugForAPIKey(ctx context.Context, apiKey string) (string, error) {
	var slug string
	err := s.Pool.QueryRow(ctx, "SELECT slug FROM public.tenants WHERE api_key = $1", apiKey).Scan(&slug)
	if err != nil {
		return "", fmt.Errorf("resolving api key: %w", err)
	}
	return slug, nil
}

// ListAllSlugs returns every tenant slug in the directory, used by migrate
// mode to bring every tenant schema up to date.
func (s *Store) ListAllSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, "SELECT slug FROM public.tenants")
	if err != nil {
		return nil, fmt.Errorf("querying tenant slugs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scanning tenant slug: %w", err)
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// ListAutomationEnabled returns every tenant with automation_enabled = true,
// the candidate set the worker's per-tick dispatch loop iterates (§4.1).
func (s *Store) ListAutomationEnabled(ctx context.Context) ([]automation.ActiveTenant, error) {
	rows, err := s.Pool.Query(ctx, "SELECT slug FROM public.tenants WHERE automation_enabled = true")
	if err != nil {
		return nil, fmt.Errorf("querying active tenants: %w", err)
	}
	defer rows.Close()

	var out []automation.ActiveTenant
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scanning tenant slug: %w", err)
		}
		out = append(out, automation.ActiveTenant{Slug: slug, Schema: tenant.SchemaName(slug)})
	}
	return out, rows.Err()
}
