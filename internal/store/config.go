package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// GetConfig loads the tenant's singleton config document, implementing
// tenantconfig.Store.
func (s *Store) GetConfig(ctx context.Context, schema string) (tenantconfig.Config, error) {
	var cfg tenantconfig.Config
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		var raw []byte
		err := conn.QueryRow(ctx, "SELECT document FROM config WHERE id = 1").Scan(&raw)
		if err != nil {
			return fmt.Errorf("querying config: %w", err)
		}
		return json.Unmarshal(raw, &cfg)
	})
	return cfg, err
}

// PutConfig upserts the tenant's singleton config document and keeps
// public.tenants.automation_enabled in sync so the worker's per-cycle tick
// can cheaply list candidate tenants without opening every schema (§4.1,
// §4.2).
func (s *Store) PutConfig(ctx context.Context, schema string, cfg tenantconfig.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO config (id, document) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
		`, raw)
		return err
	}); err != nil {
		return fmt.Errorf("upserting config: %w", err)
	}

	slug := strings.TrimPrefix(schema, "tenant_")
	if _, err := s.Pool.Exec(ctx,
		"UPDATE public.tenants SET automation_enabled = $1 WHERE slug = $2",
		cfg.AutomationEnabled, slug,
	); err != nil {
		return fmt.Errorf("syncing tenant automation flag: %w", err)
	}
	return nil
}
