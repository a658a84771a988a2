// README: Postgres connection pool, shared query interface and transaction runner.
package infra

import (
	"context"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so stores run the same SQL inside
// and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func NewDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

// InTx runs fn in one transaction. The whole transaction is retried on serialization
// failures, deadlocks and connection errors that happened before commit; fn must not have
// effects outside the transaction.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	op := func() error {
		err := pgx.BeginFunc(ctx, pool, fn)
		if err == nil {
			return nil
		}
		if retryableTx(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, newBackOff(ctx))
}

func retryableTx(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return pgconn.SafeToRetry(err)
}

// IsCheckViolation reports whether err is a CHECK constraint violation on constraint.
func IsCheckViolation(err error, constraint string) bool {
	return isViolation(err, "23514", constraint)
}

// IsUniqueViolation reports whether err is a unique constraint violation on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	return isViolation(err, "23505", constraint)
}

func isViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code && (constraint == "" || pgErr.ConstraintName == constraint)
}
