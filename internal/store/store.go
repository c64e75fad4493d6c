// Package store is the C2 persistence layer: hand-written pgx queries over
// the schema-per-tenant document tables (config, rules, automation state,
// audit trail, quick-control override, generic cache documents) plus the
// shared, site-scoped price interval table in the public schema.
//
// Every tenant-scoped method acquires a pooled connection, sets its
// search_path to "<tenant schema>, public", and releases it when done —
// the same pattern internal/tenant.Middleware uses for HTTP requests, made
// available here for the worker (C1), which has no inbound request to hang
// a connection off of.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence layer used by the automation cycle engine, the
// curtailment engine, and the HTTP collaborator's CRUD handlers.
type Store struct {
	Pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// acquireTenant acquires a pooled connection scoped to a tenant's schema.
// Callers must Release() it.
func (s *Store) acquireTenant(ctx context.Context, schema string) (*pgxpool.Conn, error) {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("setting search_path to %s: %w", schema, err)
	}
	return conn, nil
}

// withTenant runs fn against a connection scoped to schema, releasing it
// afterwards regardless of outcome.
func (s *Store) withTenant(ctx context.Context, schema string, fn func(conn *pgxpool.Conn) error) error {
	conn, err := s.acquireTenant(ctx, schema)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// withTenantTx runs fn inside a transaction scoped to schema, committing on
// success and rolling back on error or panic. Used for the multi-document
// atomic writes invariant 5 / §4.2 requires (preempt, quick-control
// auto-cleanup).
func (s *Store) withTenantTx(ctx context.Context, schema string, fn func(tx pgx.Tx) error) error {
	return s.withTenant(ctx, schema, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}
