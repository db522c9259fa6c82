// Package postgres implements storage.Store on database/sql with the
// lib/pq driver. Every repository runs on a querier, which is either the
// pool (auto-commit) or the *sql.Tx of a unit of work.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/storage"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Stock() storage.StockLedger      { return &StockLedger{q: s.db} }
func (s *Store) Catalog() storage.CatalogReader  { return &CatalogRepository{q: s.db} }
func (s *Store) Carts() storage.CartRepository   { return &CartRepository{q: s.db} }
func (s *Store) Orders() storage.OrderRepository { return &OrderRepository{q: s.db} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &txRepos{q: tx}); err != nil {
		return err
	}

	return translate(tx.Commit())
}

type txRepos struct {
	q querier
}

func (t *txRepos) Stock() storage.StockLedger      { return &StockLedger{q: t.q} }
func (t *txRepos) Catalog() storage.CatalogReader  { return &CatalogRepository{q: t.q} }
func (t *txRepos) Carts() storage.CartRepository   { return &CartRepository{q: t.q} }
func (t *txRepos) Orders() storage.OrderRepository { return &OrderRepository{q: t.q} }

// inTx runs fn on q directly when q is already a transaction, and in a new
// transaction when q is the pool.
func inTx(ctx context.Context, q querier, fn func(q querier) error) error {
	db, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return translate(tx.Commit())
}

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// translate maps contention failures onto storage.ErrConflict and passes
// every other error through.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
		}
	}
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
