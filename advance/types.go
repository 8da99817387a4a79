/*
Package advance implements the cash-advance ledger.

PURPOSE:
  Employees can be advanced money that is recovered through weekly payroll
  deductions (or cash/check repayments). The ledger is an append-only list
  of entries; balances, schedules and overdue status are always derived by
  replaying those entries.

ENTRY TYPES:
  ADVANCE:    Principal handed to the employee       (+amount)
  REPAYMENT:  Money recovered against one advance    (-amount)
  ADJUSTMENT: Credit that reduces one advance        (-amount)

  Amounts are stored as non-negative magnitudes. SignedEffect() is the only
  place the sign is decided.

STATUS LIFECYCLE (advances only):
  ACTIVE ──repaid in full──▶ COMPLETED
  ACTIVE ──admin──▶ CANCELLED | FORGIVEN | DEFAULTED
  COMPLETED ──repayment deleted──▶ ACTIVE

SEE ALSO:
  - ledger.go: Creation, repayment and policy checks
  - schedule.go: Weekly amounts and batch processing
  - overdue.go: Overdue detection
*/
package advance

import (
	"context"
	"time"

	"github.com/warp/payroll-ledger/generic"
)

// =============================================================================
// ENUMS
// =============================================================================

type EntryType string

const (
	TypeAdvance    EntryType = "ADVANCE"
	TypeRepayment  EntryType = "REPAYMENT"
	TypeAdjustment EntryType = "ADJUSTMENT"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusDefaulted Status = "DEFAULTED"
	StatusForgiven  Status = "FORGIVEN"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusDefaulted, StatusForgiven, StatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodPayrollDeduction PaymentMethod = "PAYROLL_DEDUCTION"
	MethodCash             PaymentMethod = "CASH"
	MethodCheck            PaymentMethod = "CHECK"
	MethodOther            PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodPayrollDeduction, MethodCash, MethodCheck, MethodOther:
		return true
	}
	return false
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one immutable ledger record. Only Status, LastRepaymentDate and
// Notes ever change after creation.
type Entry struct {
	ID              generic.EntryID    `json:"id"`
	AdvanceID       generic.EntryID    `json:"advance_id"`
	ParentAdvanceID generic.EntryID    `json:"parent_advance_id,omitempty"`
	EmployeeID      generic.EmployeeID `json:"employee_id"`
	EmployeeName    string             `json:"employee_name"`
	Date            time.Time          `json:"date"`
	WeekStart       time.Time          `json:"week_start"`
	Type            EntryType          `json:"type"`
	Amount          generic.Money      `json:"amount"`

	// Fixed at creation for ADVANCE entries.
	WeeklyRepaymentAmount generic.Money `json:"weekly_repayment_amount"`
	RepaymentWeeks        int           `json:"repayment_weeks,omitempty"`

	Status            Status        `json:"status"`
	PaymentMethod     PaymentMethod `json:"payment_method,omitempty"`
	ReferenceNumber   string        `json:"reference_number,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	LastRepaymentDate time.Time     `json:"last_repayment_date,omitzero"`
	ApprovedBy        string        `json:"approved_by,omitempty"`
	ProcessedBy       string        `json:"processed_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// SignedEffect is the entry's effect on the employee's outstanding balance.
func (e Entry) SignedEffect() generic.Money {
	switch e.Type {
	case TypeAdvance:
		return e.Amount
	case TypeRepayment, TypeAdjustment:
		return e.Amount.Neg()
	default:
		return generic.Zero
	}
}

func (e Entry) IsAdvance() bool { return e.Type == TypeAdvance }

// IsCredit reports whether the entry reduces an advance.
func (e Entry) IsCredit() bool { return e.Type == TypeRepayment || e.Type == TypeAdjustment }

func (e Entry) IsActiveAdvance() bool { return e.Type == TypeAdvance && e.Status == StatusActive }

// =============================================================================
// INPUTS
// =============================================================================

// CreateAdvanceInput carries everything needed to open an advance.
type CreateAdvanceInput struct {
	Employee   generic.Employee
	Date       time.Time // defaults to today
	WeekStart  time.Time // defaults to the payroll week of Date
	Amount     generic.Money
	Weeks      int
	Notes      string
	ApprovedBy string
}

// RepaymentInput records money recovered against one advance.
type RepaymentInput struct {
	EmployeeID      generic.EmployeeID
	AdvanceID       generic.EntryID
	Date            time.Time
	WeekStart       time.Time
	Amount          generic.Money
	Method          PaymentMethod // defaults to PAYROLL_DEDUCTION
	ReferenceNumber string
	Notes           string
	ProcessedBy     string
}

// AdjustmentInput records a credit that reduces an advance without cash
// changing hands (partial forgiveness, corrections).
type AdjustmentInput struct {
	EmployeeID  generic.EmployeeID
	AdvanceID   generic.EntryID
	Date        time.Time
	WeekStart   time.Time
	Amount      generic.Money
	Notes       string
	ProcessedBy string
}

// Summary is the per-employee aggregate view.
type Summary struct {
	EmployeeID        generic.EmployeeID
	TotalAdvanced     generic.Money
	TotalRepaid       generic.Money
	CurrentBalance    generic.Money
	ActiveAdvances    int
	ScheduledThisWeek generic.Money
	Overdue           int
}

// =============================================================================
// STORE
// =============================================================================

// Change is one atomic mutation of the entry set.
type Change struct {
	Append []Entry
	Update []Entry
	Delete []generic.EntryID
}

func (c Change) Empty() bool {
	return len(c.Append) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// Apply returns entries with c applied: deletes, then updates by ID, then
// appends. The input slice is not modified.
func (c Change) Apply(entries []Entry) []Entry {
	drop := make(map[generic.EntryID]bool, len(c.Delete))
	for _, id := range c.Delete {
		drop[id] = true
	}
	updates := make(map[generic.EntryID]Entry, len(c.Update))
	for _, u := range c.Update {
		updates[u.ID] = u
	}

	out := make([]Entry, 0, len(entries)+len(c.Append))
	for _, e := range entries {
		if drop[e.ID] {
			continue
		}
		if u, ok := updates[e.ID]; ok {
			e = u
		}
		out = append(out, e)
	}
	return append(out, c.Append...)
}

// Store persists advance entries. ApplyAdvanceChange must be all-or-nothing.
type Store interface {
	LoadAdvanceEntries(ctx context.Context) ([]Entry, error)
	ApplyAdvanceChange(ctx context.Context, c Change) error
}
