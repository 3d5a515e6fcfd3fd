package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Postgres passes a pgx.Tx; nil means
// "no transaction, use the pool".
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside a database transaction and hands the
// handle to repositories through tx. fn returning an error rolls back.
//
// Usage:
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		u, err := users.FindByID(ctx, tx, id) // SELECT ... FOR UPDATE
//		...
//		return users.UpdateSubscription(ctx, tx, id, tier)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
