/*
Package escrow implements the escrow ledger: money held in trust for an
employee and funded toward a per-employee target.

ENTRY TYPES:
  DEPOSIT:     Money put into escrow      (+amount)
  WITHDRAWAL:  Money paid out of escrow   (-amount)

INVARIANT:
  An employee's escrow balance (deposits - withdrawals) never goes negative.
  AddWithdrawal is the only check that enforces it.

TARGET FUNDING:
  Two predicates, deliberately kept apart:
    IsFullyFunded     balance >  target  -> stop automatic deductions
    HasReachedTarget  balance >= target  -> show "Fully Funded"

SEE ALSO:
  - ledger.go: Mutations and queries
  - settings/settings.go: Target storage and default
*/
package escrow

import (
	"context"
	"time"

	"github.com/warp/payroll-ledger/generic"
)

type EntryType string

const (
	TypeDeposit    EntryType = "DEPOSIT"
	TypeWithdrawal EntryType = "WITHDRAWAL"
)

// Entry is one escrow movement. Notes is the only mutable field. Balance is
// derived on read and never persisted.
type Entry struct {
	ID           generic.EntryID    `json:"id"`
	Date         time.Time          `json:"date"`
	WeekStart    time.Time          `json:"week_start"`
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	EmployeeName string             `json:"employee_name"`
	Type         EntryType          `json:"type"`
	Amount       generic.Money      `json:"amount"`
	Notes        string             `json:"notes,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`

	Balance generic.Money `json:"-"`
}

// SignedEffect is the entry's effect on the escrow balance.
func (e Entry) SignedEffect() generic.Money {
	switch e.Type {
	case TypeDeposit:
		return e.Amount
	case TypeWithdrawal:
		return e.Amount.Neg()
	default:
		return generic.Zero
	}
}

// MovementInput carries a deposit or a withdrawal.
type MovementInput struct {
	Employee  generic.Employee
	Date      time.Time // defaults to today
	WeekStart time.Time // defaults to the payroll week of Date
	Amount    generic.Money
	Notes     string
}

// Summary is the funding position of one employee.
type Summary struct {
	EmployeeID        generic.EmployeeID
	Balance           generic.Money
	TotalDeposits     generic.Money
	TotalWithdrawals  generic.Money
	Target            generic.Money
	RemainingToTarget generic.Money
	FullyFunded       bool
	ReachedTarget     bool
}

// WeeklyTotals is the escrow activity of one payroll week.
type WeeklyTotals struct {
	WeekStart   time.Time
	Deposits    generic.Money
	Withdrawals generic.Money
}

// Change is one atomic mutation. Stores apply Clear, then Delete, Update
// and Append, in that order.
type Change struct {
	Clear  bool
	Append []Entry
	Update []Entry
	Delete []generic.EntryID
}

// Apply returns entries with c applied in store order. The input slice is
// not modified; derived balances are reset.
func (c Change) Apply(entries []Entry) []Entry {
	if c.Clear {
		entries = nil
	}
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
		e.Balance = generic.Zero
		out = append(out, e)
	}
	for _, e := range c.Append {
		e.Balance = generic.Zero
		out = append(out, e)
	}
	return out
}

// Store persists escrow entries. ApplyEscrowChange must be all-or-nothing.
type Store interface {
	LoadEscrowEntries(ctx context.Context) ([]Entry, error)
	ApplyEscrowChange(ctx context.Context, c Change) error
}
