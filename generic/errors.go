/*
errors.go - Centralized error types for both ledgers

PURPOSE:
  All error types in one place for consistency and discoverability.
  Ledger operations never panic on bad input; they return one of these
  errors and leave the ledger untouched.

ERROR CATEGORIES:
  1. Validation errors - bad input or a policy violation (no side effects)
  2. Referential errors - a repayment pointing at a missing/closed advance
  3. Persistence errors - the store failed to load or apply a change

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ib *generic.InsufficientBalanceError
      errors.As(err, &ib) // ib.Available, ib.Requested
  }

SEE ALSO:
  - advance/ledger.go: Policy checks at creation time
  - escrow/ledger.go: Non-negative balance check
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidWeeks is returned when a repayment term is outside the policy range.
	ErrInvalidWeeks = errors.New("invalid repayment weeks")

	// ErrInvalidInput covers missing employee, missing week start and similar.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPolicyViolation is returned when an advance breaks the employee's settings.
	ErrPolicyViolation = errors.New("advance policy violation")

	// ErrConcurrentAdvance is returned when a second ACTIVE advance is not allowed.
	ErrConcurrentAdvance = errors.New("employee already has an active advance")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the escrow balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverpayment is returned when a repayment exceeds the outstanding balance.
	ErrOverpayment = errors.New("repayment exceeds outstanding balance")

	// ErrNotFound is returned when a referenced entry or employee doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrNotActive is returned when an operation requires an ACTIVE advance.
	ErrNotActive = errors.New("advance is not active")

	// ErrReferentialIntegrity is returned when a reference points at the wrong
	// kind of entry or at another employee's advance.
	ErrReferentialIntegrity = errors.New("referential integrity violation")

	// ErrDeleteForbidden is returned when deleting a live advance.
	ErrDeleteForbidden = errors.New("entry cannot be deleted")

	// ErrPersistence is returned when the store fails to apply a change.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PolicyViolationError names the setting that rejected an advance.
type PolicyViolationError struct {
	EmployeeID EmployeeID
	Rule       string // e.g. "max_advance_amount", "weekly_repayment_limit"
	Limit      string
	Requested  string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("advance policy violation for %s: %s limit %s, requested %s",
		e.EmployeeID, e.Rule, e.Limit, e.Requested)
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPolicyViolation
}

// InsufficientBalanceError provides details about an escrow shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  Money
	Requested  Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Shortfall() Money {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// OverpaymentError is returned when a credit would drive an advance negative.
type OverpaymentError struct {
	AdvanceID   EntryID
	Outstanding Money
	Requested   Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("repayment %s exceeds outstanding balance %s on advance %s",
		e.Requested, e.Outstanding, e.AdvanceID)
}

func (e *OverpaymentError) Unwrap() error {
	return ErrOverpayment
}

// PersistenceError wraps a store failure. The in-memory ledger is unchanged
// when one of these is returned from a mutating call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input or
// a business rule, i.e. something the caller can fix and retry.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidWeeks) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrConcurrentAdvance) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOverpayment)
}

// IsConflict returns true if the error is a state conflict rather than bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrReferentialIntegrity) ||
		errors.Is(err, ErrDeleteForbidden)
}

// IsNotFound returns true if the error indicates a missing entry or employee.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Reason returns a short machine-readable code for an error, used for
// metrics labels and API error codes.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidWeeks):
		return "invalid_weeks"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrConcurrentAdvance):
		return "concurrent_advance"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrReferentialIntegrity):
		return "referential_integrity"
	case errors.Is(err, ErrDeleteForbidden):
		return "delete_forbidden"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
