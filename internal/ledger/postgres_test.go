package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/pennywise/pennywise/internal/logging"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: pgSerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: pgDeadlockDetected}, true},
		{"wrapped deadlock", fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgDeadlockDetected}), true},
		{"unique violation", &pgconn.PgError{Code: pgUniqueViolation}, false},
		{"plain error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryable(tc.err))
		})
	}
}

func TestInsertErrorDetectsClientTxRace(t *testing.T) {
	race := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: clientTxConstraint}
	assert.ErrorIs(t, insertError(race), errClientTxRace)
	assert.ErrorIs(t, insertError(fmt.Errorf("insert: %w", race)), errClientTxRace)

	other := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "transactions_pkey"}
	assert.Same(t, other, insertError(other))
	assert.NoError(t, insertError(nil))
}

func TestBalanceErrorMapping(t *testing.T) {
	assert.ErrorIs(t, balanceError(pgx.ErrNoRows), ErrInsufficientFunds)
	assert.ErrorIs(t, balanceError(&pgconn.PgError{Code: pgNumericOutOfRange}), ErrBalanceOverflow)

	boom := errors.New("boom")
	assert.Equal(t, boom, balanceError(boom))
}

func TestRetryUnit(t *testing.T) {
	logger := logging.Discard()
	conflict := &pgconn.PgError{Code: pgSerializationFailure}

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := retryUnit("post", 3, logger, func() error {
			calls++
			return conflict
		})
		assert.ErrorIs(t, err, conflict)
		assert.Equal(t, 3, calls)
	})

	t.Run("recovers from a transient conflict", func(t *testing.T) {
		calls := 0
		err := retryUnit("post", 3, logger, func() error {
			calls++
			if calls == 1 {
				return conflict
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry business errors", func(t *testing.T) {
		calls := 0
		err := retryUnit("post", 3, logger, func() error {
			calls++
			return ErrInsufficientFunds
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})
}
