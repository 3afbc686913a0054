// Package postgres implements the persistence ports on PostgreSQL via
// pgx. The call upsert is the pipeline's single source-of-truth write:
// one transaction covers the call row and every child row, keyed by
// (owner_id, customer_call_id) so re-running a call replaces rather than
// duplicates.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixadev/callwatch/internal/ports"
)

var (
	_ ports.CallStore       = (*Store)(nil)
	_ ports.SearchStore     = (*Store)(nil)
	_ ports.EvaluationStore = (*Store)(nil)
	_ ports.AgentStore      = (*Store)(nil)
)

// Store holds the shared connection pool behind the CallStore,
// SearchStore, EvaluationStore, and AgentStore ports.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given connection string and pings it.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
