package generic_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/payroll-ledger/generic"
)

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: bad", generic.ErrInvalidAmount), "invalid_amount"},
		{&generic.PolicyViolationError{Rule: "max_advance_amount"}, "policy_violation"},
		{&generic.InsufficientBalanceError{}, "insufficient_balance"},
		{&generic.OverpaymentError{}, "overpayment"},
		{&generic.PersistenceError{Op: "x", Err: errors.New("disk full")}, "persistence"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generic.Reason(tt.err))
	}
}

func TestPersistenceError_UnwrapsBoth(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&generic.PersistenceError{Op: "create advance", Err: cause})

	assert.ErrorIs(t, err, generic.ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.False(t, generic.IsValidation(err))
}

func TestInsufficientBalanceError_Shortfall(t *testing.T) {
	err := &generic.InsufficientBalanceError{
		Available: generic.MustParseMoney("500"),
		Requested: generic.MustParseMoney("600"),
	}
	assert.Equal(t, "100.00", err.Shortfall().String())
	assert.True(t, generic.IsValidation(err))
}

func TestClassification(t *testing.T) {
	assert.True(t, generic.IsConflict(fmt.Errorf("%w", generic.ErrNotActive)))
	assert.True(t, generic.IsConflict(fmt.Errorf("%w", generic.ErrDeleteForbidden)))
	assert.True(t, generic.IsNotFound(fmt.Errorf("wrapped: %w", generic.ErrNotFound)))
	assert.False(t, generic.IsValidation(generic.ErrNotFound))
}
