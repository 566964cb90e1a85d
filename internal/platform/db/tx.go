package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const txKey contextKey = "db_tx"

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx returns a context carrying tx. Repositories pick it up through
// TxFromContext so that every statement of one unit of work shares it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext returns the transaction stored by WithTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// ConnFromContext returns the active transaction as a Querier, or nil when
// the context carries none.
func ConnFromContext(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return nil
}

// RunInTx runs fn inside a transaction. If ctx already carries one, fn joins
// it. lockKey, when non-empty, is taken as a transaction-scoped advisory lock
// before fn runs, serializing all RunInTx calls that share the key.
func RunInTx(ctx context.Context, b TxBeginner, lockKey string, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if lockKey != "" {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("acquire advisory lock %s: %w", lockKey, err)
		}
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn under a savepoint of the context's transaction, so a
// failed statement can be retried without aborting the enclosing transaction.
// Without a transaction fn runs directly against fallback.
func Savepoint(ctx context.Context, fallback Querier, fn func(q Querier) error) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return fn(fallback)
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
