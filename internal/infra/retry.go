// README: Bounded retry for idempotent reads.
package infra

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"hometaste/internal/apperr"
)

const readRetries = 3

// RetryRead retries fn on transient failures. Domain errors, missing rows, SQL errors and
// context cancellation are returned as-is. Only use it around reads.
func RetryRead(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, newBackOff(ctx))
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) || apperr.KindOf(err) != apperr.KindInternal {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	return true
}

func newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 50 * time.Millisecond
	exp.MaxInterval = 500 * time.Millisecond
	exp.MaxElapsedTime = 3 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(exp, readRetries), ctx)
}
