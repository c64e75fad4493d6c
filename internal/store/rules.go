package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarctl/solarctl/pkg/rule"
)

// ListRules returns all of a tenant's rules ordered by priority, implementing
// rule.Store.
func (s *Store) ListRules(ctx context.Context, schema string) ([]rule.Rule, error) {
	var rules []rule.Rule
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, name, priority, enabled, cooldown_minutes, conditions, action,
			       last_triggered, clear_segments_on_next_cycle
			FROM rules ORDER BY priority ASC, id ASC
		`)
		if err != nil {
			return fmt.Errorf("querying rules: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRule(rows)
			if err != nil {
				return err
			}
			rules = append(rules, r)
		}
		return rows.Err()
	})
	return rules, err
}

// GetRule fetches a single rule by id, implementing rule.Store.
func (s *Store) GetRule(ctx context.Context, schema string, id uuid.UUID) (rule.Rule, error) {
	var r rule.Rule
	err := s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `
			SELECT id, name, priority, enabled, cooldown_minutes, conditions, action,
			       last_triggered, clear_segments_on_next_cycle
			FROM rules WHERE id = $1
		`, id)
		var err error
		r, err = scanRule(row)
		return err
	})
	return r, err
}

// PutRule inserts or updates a rule, implementing rule.Store.
func (s *Store) PutRule(ctx context.Context, schema string, r rule.Rule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling conditions: %w", err)
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("marshaling action: %w", err)
	}

	return s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO rules (id, name, priority, enabled, cooldown_minutes, conditions, action,
			                   last_triggered, clear_segments_on_next_cycle)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				priority = EXCLUDED.priority,
				enabled = EXCLUDED.enabled,
				cooldown_minutes = EXCLUDED.cooldown_minutes,
				conditions = EXCLUDED.conditions,
				action = EXCLUDED.action,
				last_triggered = EXCLUDED.last_triggered,
				clear_segments_on_next_cycle = EXCLUDED.clear_segments_on_next_cycle
		`, r.ID, r.Name, r.Priority, r.Enabled, r.CooldownMinutes, conditions, action,
			r.LastTriggered, r.ClearSegmentsOnNextCycle)
		if err != nil {
			return fmt.Errorf("upserting rule %s: %w", r.ID, err)
		}
		return nil
	})
}

// DeleteRule removes a rule, implementing rule.Store.
func (s *Store) DeleteRule(ctx context.Context, schema string, id uuid.UUID) error {
	return s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, "DELETE FROM rules WHERE id = $1", id)
		return err
	})
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows, letting GetRule and
// ListRules share one decode path.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (rule.Rule, error) {
	var r rule.Rule
	var conditions, action []byte
	err := row.Scan(&r.ID, &r.Name, &r.Priority, &r.Enabled, &r.CooldownMinutes,
		&conditions, &action, &r.LastTriggered, &r.ClearSegmentsOnNextCycle)
	if err != nil {
		if err == pgx.ErrNoRows {
			return rule.Rule{}, fmt.Errorf("rule not found: %w", err)
		}
		return rule.Rule{}, fmt.Errorf("scanning rule: %w", err)
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return rule.Rule{}, fmt.Errorf("unmarshaling conditions: %w", err)
	}
	if err := json.Unmarshal(action, &r.Action); err != nil {
		return rule.Rule{}, fmt.Errorf("unmarshaling action: %w", err)
	}
	return r, nil
}
