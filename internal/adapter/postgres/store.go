package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openclave/controlplane/internal/port/database"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, letting every query
// method below run unmodified whether or not it is inside
// WithLoopLock/WithWorkspaceLock's transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements database.Store using PostgreSQL.
type Store struct {
	db   dbtx
	pool *pgxpool.Pool // nil when db is already a transaction; see withLock
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

var _ database.Store = (*Store)(nil)

// WithLoopLock begins a transaction, takes `SELECT ... FOR UPDATE` on the
// loop row, and runs fn against a Store bound to that transaction.
func (s *Store) WithLoopLock(ctx context.Context, loopID string, fn func(ctx context.Context, tx database.Store) error) error {
	return s.withRowLock(ctx, "agent_loops", loopID, fn)
}

// WithWorkspaceLock is the workspace-row equivalent of WithLoopLock.
func (s *Store) WithWorkspaceLock(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx database.Store) error) error {
	return s.withRowLock(ctx, "workspaces", workspaceID, fn)
}

func (s *Store) withRowLock(ctx context.Context, table, id string, fn func(ctx context.Context, tx database.Store) error) error {
	if s.pool == nil {
		return fmt.Errorf("%s lock: already inside a transaction", table)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, fmt.Sprintf(`SELECT true FROM %s WHERE id = $1 FOR UPDATE`, table), id).Scan(&exists)
	if err != nil {
		return notFoundWrap(err, "lock %s %s", table, id)
	}

	txStore := &Store{db: tx}
	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
