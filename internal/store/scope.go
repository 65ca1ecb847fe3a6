package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Scope is a handle to one tenant-bound transaction. Statements can only be
// issued through a Scope, so nothing runs outside a bound tenant context.
type Scope struct {
	tx       *sql.Tx
	tenantID string
}

func (sc *Scope) TenantID() string {
	return sc.tenantID
}

func (sc *Scope) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sc.tx.ExecContext(ctx, query, args...)
}

func (sc *Scope) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return sc.tx.QueryContext(ctx, query, args...)
}

func (sc *Scope) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return sc.tx.QueryRowContext(ctx, query, args...)
}

// RunScoped runs fn inside a single transaction whose first statement binds
// tenantID as transaction-local session state, so every subsequent statement
// is filtered to that tenant by the row-level security policies. The binding
// is parameterized; the identifier never appears in SQL text. The transaction
// commits only if fn returns nil, otherwise it rolls back and fn's error
// propagates unchanged.
func (s *PostgresStore) RunScoped(ctx context.Context, tenantID string, fn func(*Scope) error) error {
	if tenantID == "" {
		return fmt.Errorf("run scoped: empty tenant id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scoped tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bind tenant scope: %w", err)
	}
	if err := fn(&Scope{tx: tx, tenantID: tenantID}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scoped tx: %w", err)
	}
	return nil
}
