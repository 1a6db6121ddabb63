// Package storage defines the transactional storage contract shared by the
// indexer, the subscription cursor store and the identity cache.
package storage

import (
	"context"
	"database/sql"
	"errors"
)

// ErrUnavailable marks failures of the transaction layer itself (begin or
// commit), as opposed to errors returned by the work inside a transaction.
var ErrUnavailable = errors.New("storage unavailable")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor scopes a group of writes into one atomic unit. If fn returns an
// error the transaction is rolled back and the error is returned unchanged.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

// Lock is a held mutual-exclusion token.
type Lock interface {
	ID() int64
	Release(ctx context.Context) error
}

// Locker acquires deployment-wide mutual-exclusion tokens.
type Locker interface {
	// TryLock returns ok=false without error when the token is held elsewhere.
	TryLock(ctx context.Context, id int64) (lock Lock, ok bool, err error)
}
