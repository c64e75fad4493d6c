package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/pkg/auditlog"
)

// AppendAudit inserts one audit trail row, implementing auditlog.Store.
func (s *Store) AppendAudit(ctx context.Context, schema string, entry auditlog.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	return s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO audit_log (cycle_id, started_at, action_taken, document)
			VALUES ($1, $2, $3, $4)
		`, entry.CycleID, entry.StartedAt, entry.ActionTaken, raw)
		if err != nil {
			return fmt.Errorf("inserting audit entry: %w", err)
		}
		return nil
	})
}

// ListAudit returns a tenant's audit trail for the last n days, most recent
// first (§6 GET /api/automation/history?days=N).
func (s *Store) ListAudit(ctx context.Context, schema string, n int) ([]auditlog.Entry, error) {
	since := time.Now().AddDate(0, 0, -n)
	var entries []auditlog.Entry
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT document FROM audit_log
			WHERE started_at >= $1
			ORDER BY started_at DESC
			LIMIT 1000
		`, since)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("scanning audit entry: %w", err)
			}
			var e auditlog.Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("unmarshaling audit entry: %w", err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}
