package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Its concrete type is infra-defined
// (pgx.Tx for Postgres). Repositories must accept NoTX for the
// non-transactional path.
type Tx interface{}

var NoTX Tx

// TransactionManager executes fn within a single database transaction and
// hands the transaction to fn. Returning an error from fn rolls back.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		sub, err := subs.FindByID(ctx, tx, id)
//		...
//		return subs.Update(ctx, tx, sub)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
