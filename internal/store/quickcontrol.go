package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/pkg/automation"
)

// GetQuickControl fetches the tenant's quick-control override document,
// implementing automation.Store. A missing row returns the zero value
// (inactive).
func (s *Store) GetQuickControl(ctx context.Context, schema string) (automation.QuickControlOverride, error) {
	var qc automation.QuickControlOverride
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		var raw []byte
		err := conn.QueryRow(ctx, "SELECT document FROM quick_control WHERE id = 1").Scan(&raw)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying quick control: %w", err)
		}
		return json.Unmarshal(raw, &qc)
	})
	return qc, err
}

// PutQuickControl upserts the tenant's quick-control override document,
// implementing automation.Store.
func (s *Store) PutQuickControl(ctx context.Context, schema string, q automation.QuickControlOverride) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshaling quick control: %w", err)
	}
	return s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO quick_control (id, document) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
		`, raw)
		if err != nil {
			return fmt.Errorf("upserting quick control: %w", err)
		}
		return nil
	})
}
