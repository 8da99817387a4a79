/*
Package generic provides the shared building blocks of the payroll ledger.

PURPOSE:
  Both ledgers (advances and escrow) speak the same vocabulary: money with
  cent precision, employee identifiers, payroll weeks, and a common error
  taxonomy. This package holds that vocabulary so the domain packages only
  describe their own rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A single-currency amount backed by decimal.Decimal
  - EmployeeID / EntryID: Type-safe identifiers
  - Employee: The id + display-name pair captured at entry creation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, never float64, for every stored amount
  2. Magnitudes: stored amounts are non-negative; the entry type decides
     the sign of the ledger effect
  3. Type Safety: EmployeeID and EntryID cannot be mixed up

USAGE:
  amount := generic.MustParseMoney("1000.00")
  weekly := generic.Amortize(amount, 3) // 333.34

SEE ALSO:
  - amortize.go: Weekly installment math
  - time.go: Payroll week helpers
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Cent-precision amount in the ledger's single currency
// =============================================================================

// Money is an amount of the ledger's single currency.
type Money struct {
	Value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{Value: decimal.Zero}

// CentPlaces is the number of decimal places money is rounded to.
const CentPlaces = 2

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value).Round(CentPlaces)}
}

func NewMoneyFromCents(cents int64) Money {
	return Money{Value: decimal.New(cents, -CentPlaces)}
}

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d}
}

// ParseMoney parses a decimal string such as "1500" or "333.34".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{Value: d}, nil
}

// MustParseMoney parses s and panics on malformed input. Intended for
// constants and tests.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg()} }
func (m Money) Abs() Money                  { return Money{Value: m.Value.Abs()} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	return m.Max(Zero)
}

// RoundCents rounds half away from zero to whole cents.
func (m Money) RoundCents() Money {
	return Money{Value: m.Value.Round(CentPlaces)}
}

// HasSubCentPrecision reports whether m carries digits beyond cents.
func (m Money) HasSubCentPrecision() bool {
	return !m.Value.Equal(m.Value.Round(CentPlaces))
}

func (m Money) String() string {
	return m.Value.StringFixed(CentPlaces)
}

func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// MarshalJSON encodes money as a fixed two-decimal string so clients never
// see float rounding artifacts.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*m = Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
	}
	m.Value = d
	return nil
}

// Sum adds up a list of amounts.
func Sum(amounts ...Money) Money {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type EntryID string

// Employee is the snapshot of an employee taken when an entry is created.
// Ledgers never re-resolve it afterwards.
type Employee struct {
	ID   EmployeeID `json:"id"`
	Name string     `json:"name"`
}

// EmployeeDirectory resolves employees for the command surface. The ledgers
// themselves only ever see the resolved Employee value.
type EmployeeDirectory interface {
	// LookupEmployee returns ErrNotFound when the id is unknown.
	LookupEmployee(ctx context.Context, id EmployeeID) (Employee, error)
}
