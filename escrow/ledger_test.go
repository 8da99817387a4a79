package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/events"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
	"github.com/warp/payroll-ledger/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	dana = generic.Employee{ID: "emp-dana", Name: "Dana Reyes"}
	lee  = generic.Employee{ID: "emp-lee", Name: "Lee Park"}

	week1 = generic.Date(2025, time.March, 3)
	week2 = generic.Date(2025, time.March, 10)
)

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	events *events.Recorder
	ledger *escrow.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memory.New(),
		events: &events.Recorder{},
	}
	var seq int64
	var tick int64
	f.ledger = escrow.NewLedger(f.store, settings.NewStore(f.store, nil),
		escrow.WithPublisher(f.events),
		// strictly increasing so same-day entries keep insertion order
		escrow.WithClock(func() time.Time {
			return week1.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
		}),
		escrow.WithIDGenerator(func() generic.EntryID {
			return generic.EntryID(fmt.Sprintf("esc-%03d", atomic.AddInt64(&seq, 1)))
		}),
	)
	return f
}

func money(s string) generic.Money { return generic.MustParseMoney(s) }

func (f *fixture) deposit(t *testing.T, emp generic.Employee, amount string, date time.Time) escrow.Entry {
	t.Helper()
	e, err := f.ledger.AddDeposit(f.ctx, escrow.MovementInput{Employee: emp, Date: date, Amount: money(amount)})
	require.NoError(t, err)
	return e
}

func (f *fixture) withdraw(emp generic.Employee, amount string, date time.Time) (escrow.Entry, error) {
	return f.ledger.AddWithdrawal(f.ctx, escrow.MovementInput{Employee: emp, Date: date, Amount: money(amount)})
}

// =============================================================================
// BALANCE
// =============================================================================

func TestBalance_DepositsAndWithdrawals(t *testing.T) {
	// GIVEN: Deposits of 1500 and 2000 and a 3000 withdrawal
	f := newFixture(t)
	f.deposit(t, dana, "1500", week1)
	f.deposit(t, dana, "2000", week1)
	w, err := f.withdraw(dana, "3000", week2)
	require.NoError(t, err)

	// THEN: The balance is 500
	assert.Equal(t, "500.00", f.ledger.CurrentBalance(dana.ID).String())
	assert.Equal(t, "500.00", w.Balance.String())
	assert.Equal(t, "3500.00", f.ledger.TotalDeposits(dana.ID).String())
	assert.Equal(t, "3000.00", f.ledger.TotalWithdrawals(dana.ID).String())

	// WHEN: Withdrawing more than what is left
	_, err = f.withdraw(dana, "600", week2)

	// THEN: It fails with the shortfall and the balance is unchanged
	var ib *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "500.00", ib.Available.String())
	assert.Equal(t, "100.00", ib.Shortfall().String())
	assert.Equal(t, "500.00", f.ledger.CurrentBalance(dana.ID).String())
	assert.Len(t, f.ledger.EntriesForEmployee(dana.ID), 3)
}

func TestWithdrawal_ExactBalanceAllowed(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, dana, "250", week1)

	_, err := f.withdraw(dana, "250", week1)

	require.NoError(t, err)
	assert.True(t, f.ledger.CurrentBalance(dana.ID).IsZero())
}

func TestWithdrawal_BalancesArePerEmployee(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, dana, "1000", week1)

	_, err := f.withdraw(lee, "1", week1)

	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
}

func TestWithdrawal_BackdatedCheckedAgainstBalanceAtThatDate(t *testing.T) {
	// GIVEN: A single deposit of 500 dated March 10
	f := newFixture(t)
	f.deposit(t, dana, "500", week2)

	// WHEN: Withdrawing 500 dated March 1, before the money arrived
	_, err := f.withdraw(dana, "500", generic.Date(2025, time.March, 1))

	// THEN: It is rejected since nothing was held on March 1
	var ib *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.True(t, ib.Available.IsZero())
	assert.Equal(t, "500.00", ib.Shortfall().String())
	require.Len(t, f.ledger.EntriesForEmployee(dana.ID), 1)

	// WHEN: A backdated withdrawal would overdraw a later entry instead
	f.deposit(t, dana, "100", week1)
	_, err = f.withdraw(dana, "50", week1)
	require.NoError(t, err)
	_, err = f.withdraw(dana, "60", week1.AddDate(0, 0, 1))

	// THEN: Only the 50 held at that date counts
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "50.00", ib.Available.String())
	for _, e := range f.ledger.EntriesForEmployee(dana.ID) {
		assert.False(t, e.Balance.IsNegative(), "entry %s", e.ID)
	}
	assert.Equal(t, "550.00", f.ledger.CurrentBalance(dana.ID).String())
}

func TestMovement_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   escrow.MovementInput
		want error
	}{
		{"zero deposit", escrow.MovementInput{Employee: dana, Amount: generic.Zero}, generic.ErrInvalidAmount},
		{"negative deposit", escrow.MovementInput{Employee: dana, Amount: money("-5")}, generic.ErrInvalidAmount},
		{"sub-cent", escrow.MovementInput{Employee: dana, Amount: money("1.001")}, generic.ErrInvalidAmount},
		{"no employee", escrow.MovementInput{Amount: money("5")}, generic.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.AddDeposit(f.ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
			_, err = f.ledger.AddWithdrawal(f.ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.ledger.AllEntries())
}

// =============================================================================
// RUNNING BALANCES
// =============================================================================

func TestEntriesForEmployee_RunningBalanceNewestFirst(t *testing.T) {
	// GIVEN: Entries inserted out of date order
	f := newFixture(t)
	f.deposit(t, dana, "100", week2)
	f.deposit(t, dana, "300", week1)
	_, err := f.withdraw(dana, "50", week2.AddDate(0, 0, 1))
	require.NoError(t, err)

	// WHEN: Listing them
	entries := f.ledger.EntriesForEmployee(dana.ID)

	// THEN: Newest first, balances accumulated in date order
	require.Len(t, entries, 3)
	assert.Equal(t, escrow.TypeWithdrawal, entries[0].Type)
	assert.Equal(t, "350.00", entries[0].Balance.String())
	assert.Equal(t, "400.00", entries[1].Balance.String())
	assert.Equal(t, "300.00", entries[2].Balance.String())
}

func TestAllEntries_RunningBalancePerEmployee(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, dana, "100", week1)
	f.deposit(t, lee, "40", week1)
	f.deposit(t, dana, "10", week2)

	entries := f.ledger.AllEntries()

	require.Len(t, entries, 3)
	assert.Equal(t, dana.ID, entries[0].EmployeeID)
	assert.Equal(t, "110.00", entries[0].Balance.String())
	assert.Equal(t, "40.00", entries[1].Balance.String())
	assert.Equal(t, "100.00", entries[2].Balance.String())
}

// =============================================================================
// TARGET FUNDING
// =============================================================================

func TestTargetPredicates(t *testing.T) {
	tests := []struct {
		name          string
		deposit       string
		fullyFunded   bool
		reachedTarget bool
		remaining     string
	}{
		{"below target", "2999.99", false, false, "0.01"},
		{"exactly at target", "3000", false, true, "0.00"},
		{"one cent over", "3000.01", true, true, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: The default 3000.00 target
			f := newFixture(t)
			f.deposit(t, dana, tt.deposit, week1)

			// THEN: The two predicates disagree exactly at the target
			assert.Equal(t, tt.fullyFunded, f.ledger.IsFullyFunded(dana.ID))
			assert.Equal(t, tt.reachedTarget, f.ledger.HasReachedTarget(dana.ID))
			assert.Equal(t, tt.remaining, f.ledger.RemainingToTarget(dana.ID).String())

			s := f.ledger.Summary(dana.ID)
			assert.Equal(t, tt.fullyFunded, s.FullyFunded)
			assert.Equal(t, tt.reachedTarget, s.ReachedTarget)
		})
	}
}

func TestSetTargetAmount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.SetTargetAmount(f.ctx, dana.ID, money("1000")))
	f.deposit(t, dana, "1200", week1)

	assert.Equal(t, "1000.00", f.ledger.TargetAmount(dana.ID).String())
	assert.Equal(t, "3000.00", f.ledger.TargetAmount(lee.ID).String())
	assert.True(t, f.ledger.IsFullyFunded(dana.ID))
	assert.True(t, f.ledger.RemainingToTarget(dana.ID).IsZero())

	err := f.ledger.SetTargetAmount(f.ctx, dana.ID, money("-1"))
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

// =============================================================================
// WEEKLY TOTALS
// =============================================================================

func TestWeeklyTotals_AcrossEmployees(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, dana, "100", week1)
	f.deposit(t, lee, "50", week1.AddDate(0, 0, 2))
	f.deposit(t, dana, "25", week2)
	_, err := f.withdraw(dana, "30", week1.AddDate(0, 0, 4))
	require.NoError(t, err)

	totals := f.ledger.WeeklyTotals(week1)

	assert.Equal(t, "150.00", totals.Deposits.String())
	assert.Equal(t, "30.00", totals.Withdrawals.String())
	assert.Equal(t, "25.00", f.ledger.WeeklyDeposits(week2).String())
	assert.True(t, f.ledger.WeeklyWithdrawals(week2).IsZero())
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

func TestUpdateNotes(t *testing.T) {
	f := newFixture(t)
	e := f.deposit(t, dana, "100", week1)

	updated, err := f.ledger.UpdateNotes(f.ctx, e.ID, "payroll correction")

	require.NoError(t, err)
	assert.Equal(t, "payroll correction", updated.Notes)
	got, _ := f.ledger.Entry(e.ID)
	assert.Equal(t, "payroll correction", got.Notes)
	assert.True(t, got.Amount.Equal(e.Amount))

	_, err = f.ledger.UpdateNotes(f.ctx, "missing", "x")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestDeleteEntry_RecomputesBalance(t *testing.T) {
	f := newFixture(t)
	first := f.deposit(t, dana, "100", week1)
	f.deposit(t, dana, "50", week2)

	require.NoError(t, f.ledger.DeleteEntry(f.ctx, first.ID))

	assert.Equal(t, "50.00", f.ledger.CurrentBalance(dana.ID).String())
	assert.Equal(t, "50.00", f.ledger.EntriesForEmployee(dana.ID)[0].Balance.String())
	assert.ErrorIs(t, f.ledger.DeleteEntry(f.ctx, first.ID), generic.ErrNotFound)
}

func TestDeleteEntry_DepositBackingWithdrawalsForbidden(t *testing.T) {
	// GIVEN: A 1000 deposit and an 800 withdrawal paid from it
	f := newFixture(t)
	dep := f.deposit(t, dana, "1000", week1)
	w, err := f.withdraw(dana, "800", week2)
	require.NoError(t, err)

	// WHEN: Deleting the deposit
	err = f.ledger.DeleteEntry(f.ctx, dep.ID)

	// THEN: It is refused and the balance is untouched
	assert.ErrorIs(t, err, generic.ErrDeleteForbidden)
	assert.Equal(t, "200.00", f.ledger.CurrentBalance(dana.ID).String())
	assert.Len(t, f.ledger.EntriesForEmployee(dana.ID), 2)
	assert.NotContains(t, f.events.Types(), events.EscrowEntryDeleted)

	// WHEN: The withdrawal goes first
	require.NoError(t, f.ledger.DeleteEntry(f.ctx, w.ID))

	// THEN: The deposit can be removed too
	require.NoError(t, f.ledger.DeleteEntry(f.ctx, dep.ID))
	assert.True(t, f.ledger.CurrentBalance(dana.ID).IsZero())
}

func TestClearAllData_KeepsTargets(t *testing.T) {
	// GIVEN: Entries for two employees and a custom target
	f := newFixture(t)
	f.deposit(t, dana, "100", week1)
	f.deposit(t, lee, "100", week1)
	require.NoError(t, f.ledger.SetTargetAmount(f.ctx, dana.ID, money("800")))

	// WHEN: Clearing
	require.NoError(t, f.ledger.ClearAllData(f.ctx))

	// THEN: Entries are gone everywhere, targets survive
	assert.Empty(t, f.ledger.AllEntries())
	persisted, err := f.store.LoadEscrowEntries(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
	assert.Equal(t, "800.00", f.ledger.TargetAmount(dana.ID).String())
	assert.Equal(t, events.EscrowCleared, f.events.Types()[len(f.events.Types())-1])
}

func TestPersistenceFailure_LeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	e := f.deposit(t, dana, "100", week1)
	f.store.FailWrites = true

	_, depErr := f.ledger.AddDeposit(f.ctx, escrow.MovementInput{Employee: dana, Amount: money("5")})
	delErr := f.ledger.DeleteEntry(f.ctx, e.ID)
	clearErr := f.ledger.ClearAllData(f.ctx)

	assert.ErrorIs(t, depErr, generic.ErrPersistence)
	assert.ErrorIs(t, delErr, generic.ErrPersistence)
	assert.ErrorIs(t, clearErr, generic.ErrPersistence)
	assert.Equal(t, "100.00", f.ledger.CurrentBalance(dana.ID).String())
	assert.Len(t, f.ledger.AllEntries(), 1)
}

func TestLoad_RestoresEntries(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, dana, "100", week1)
	f.deposit(t, dana, "20", week2)

	reloaded := escrow.NewLedger(f.store, settings.NewStore(f.store, nil))
	reloaded.Load(f.ctx)

	assert.Equal(t, "120.00", reloaded.CurrentBalance(dana.ID).String())
}
