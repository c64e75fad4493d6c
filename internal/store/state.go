package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/pkg/automation"
)

// GetState fetches the tenant's automation state document, implementing
// automation.Store. A missing row (first cycle ever) returns the zero
// value rather than an error.
func (s *Store) GetState(ctx context.Context, schema string) (automation.AutomationState, error) {
	var state automation.AutomationState
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		var raw []byte
		err := conn.QueryRow(ctx, "SELECT document FROM automation_state WHERE id = 1").Scan(&raw)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying automation state: %w", err)
		}
		return json.Unmarshal(raw, &state)
	})
	return state, err
}

// PersistCycle writes the cycle's resulting state document and, in the same
// transaction, the rule lastTriggered/clearSegmentsOnNextCycle mutations the
// cycle decided on, implementing automation.Store (§4.2 "single
// multi-document batch commit").
func (s *Store) PersistCycle(
	ctx context.Context,
	schema string,
	state automation.AutomationState,
	setTriggered *uuid.UUID,
	clearTriggered []uuid.UUID,
	flagsReset []uuid.UUID,
) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling automation state: %w", err)
	}

	return s.withTenantTx(ctx, schema, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO automation_state (id, document) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
		`, raw); err != nil {
			return fmt.Errorf("upserting automation state: %w", err)
		}

		if setTriggered != nil {
			if _, err := tx.Exec(ctx, "UPDATE rules SET last_triggered = now() WHERE id = $1", *setTriggered); err != nil {
				return fmt.Errorf("setting last_triggered: %w", err)
			}
		}
		if len(clearTriggered) > 0 {
			if _, err := tx.Exec(ctx, "UPDATE rules SET last_triggered = NULL WHERE id = ANY($1)", clearTriggered); err != nil {
				return fmt.Errorf("clearing last_triggered: %w", err)
			}
		}
		if len(flagsReset) > 0 {
			if _, err := tx.Exec(ctx, "UPDATE rules SET clear_segments_on_next_cycle = false WHERE id = ANY($1)", flagsReset); err != nil {
				return fmt.Errorf("resetting clear_segments_on_next_cycle: %w", err)
			}
		}
		return nil
	})
}
