package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Schema is the DDL of the catalog schema the PostgresStore reads and writes.
//
//go:embed schema.sql
var Schema string

// PostgreSQL error codes the store maps to sentinels.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("store: Migrate failed: %w", err)
	}
	return nil
}

// InTx runs fn inside a transaction. Calls from within fn reuse the open transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.inTx(ctx, func(tx *PostgresStore) error { return fn(tx) })
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *PostgresStore) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: InTx failed to begin transaction: %w", err)
	}
	if err := fn(&PostgresStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("store: InTx rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: InTx failed to commit: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
