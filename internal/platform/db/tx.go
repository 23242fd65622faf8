package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txContextKey string

const txKey txContextKey = "db_tx"

// WithTx returns a context carrying the given transaction. Repositories
// pick it up via TxFromContext so a service can span one unit of work
// across several repositories.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext retrieves the active transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// RunInTx begins a transaction, injects it into the context, runs fn, and
// commits. Any error from fn rolls the transaction back and is returned
// unchanged. If a transaction is already on the context, fn runs inside it
// and commit is left to the outer caller.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Runner wraps a pool so services can take transactional execution as a
// dependency instead of holding the pool themselves.
type Runner struct{ pool *pgxpool.Pool }

func NewRunner(pool *pgxpool.Pool) *Runner { return &Runner{pool: pool} }

func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, r.pool, fn)
}
