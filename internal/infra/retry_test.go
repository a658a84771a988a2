package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hometaste/internal/apperr"
)

func TestRetryReadRecoversFromTransientError(t *testing.T) {
	calls := 0
	err := RetryRead(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("conn reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReadGivesUp(t *testing.T) {
	calls := 0
	err := RetryRead(context.Background(), func() error {
		calls++
		return errors.New("conn reset by peer")
	})
	require.Error(t, err)
	assert.Equal(t, readRetries+1, calls)
}

func TestRetryReadDoesNotRetryPermanentErrors(t *testing.T) {
	notFound := apperr.New(apperr.KindNotFound, "order not found")
	for _, perm := range []error{notFound, pgx.ErrNoRows, &pgconn.PgError{Code: "42P01"}} {
		calls := 0
		err := RetryRead(context.Background(), func() error {
			calls++
			return perm
		})
		assert.ErrorIs(t, err, perm)
		assert.Equal(t, 1, calls)
	}
}

func TestRetryableTx(t *testing.T) {
	assert.True(t, retryableTx(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryableTx(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, retryableTx(&pgconn.PgError{Code: "23505"}))
	assert.False(t, retryableTx(context.Canceled))
	assert.False(t, retryableTx(apperr.New(apperr.KindConflict, "x")))
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
	assert.True(t, IsUniqueViolation(err, "orders_order_number_key"))
	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(err, "other"))
	assert.False(t, IsUniqueViolation(errors.New("x"), ""))
}

func TestIsCheckViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23514", ConstraintName: "meal_slots_remaining_range"}
	assert.True(t, IsCheckViolation(err, "meal_slots_remaining_range"))
	assert.False(t, IsCheckViolation(err, "other"))
	assert.False(t, IsUniqueViolation(err, ""), "a check failure is not a duplicate")
	assert.False(t, IsCheckViolation(&pgconn.PgError{Code: "23505"}, ""))
}
