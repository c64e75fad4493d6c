package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/pkg/curtailment"
)

// CurtailmentStore adapts *Store to curtailment.Store. A separate type is
// needed because curtailment.Store and automation.Store both name their
// methods GetState/PutState with different document shapes, and Go does not
// allow two methods of the same name on *Store.
type CurtailmentStore struct {
	*Store
}

// Curtailment returns the curtailment.Store view of s.
func (s *Store) Curtailment() CurtailmentStore {
	return CurtailmentStore{Store: s}
}

// GetState reads the curtailment sub-object of the tenant's automation
// state document, implementing curtailment.Store. Curtailment shares the
// same automation_state row as C6 (§3: "exactly-one live document per
// tenant") rather than a table of its own; the two engines run
// sequentially within one tick so there is no concurrent-write hazard.
func (s CurtailmentStore) GetState(ctx context.Context, schema string) (curtailment.State, error) {
	var state curtailment.State
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		var raw []byte
		err := conn.QueryRow(ctx, "SELECT document -> 'curtailment' FROM automation_state WHERE id = 1").Scan(&raw)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying curtailment state: %w", err)
		}
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &state)
	})
	return state, err
}

// PutState patches just the curtailment sub-object of the automation state
// document with jsonb_set, implementing curtailment.Store. Using a targeted
// patch rather than a full-document upsert means a curtailment transition
// can never clobber the activeRule/lastCheck fields the automation cycle
// engine wrote moments earlier in the same tick.
func (s CurtailmentStore) PutState(ctx context.Context, schema string, state curtailment.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling curtailment state: %w", err)
	}
	return s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO automation_state (id, document) VALUES (1, jsonb_build_object('curtailment', $1::jsonb))
			ON CONFLICT (id) DO UPDATE SET
				document = jsonb_set(automation_state.document, '{curtailment}', $1::jsonb, true),
				updated_at = now()
		`, raw)
		if err != nil {
			return fmt.Errorf("patching curtailment state: %w", err)
		}
		return nil
	})
}
