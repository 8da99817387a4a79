package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
	"github.com/warp/payroll-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAdvanceEntries_RoundTrip(t *testing.T) {
	// GIVEN: An advance and a repayment written in one change
	ctx := context.Background()
	store := newStore(t)
	march3 := generic.Date(2025, time.March, 3)
	adv := advance.Entry{
		ID:                    "adv-1",
		AdvanceID:             "adv-1",
		EmployeeID:            "emp-1",
		EmployeeName:          "Dana",
		Date:                  march3,
		WeekStart:             march3,
		Type:                  advance.TypeAdvance,
		Amount:                generic.MustParseMoney("1000.00"),
		WeeklyRepaymentAmount: generic.MustParseMoney("333.34"),
		RepaymentWeeks:        3,
		Status:                advance.StatusActive,
		ApprovedBy:            "ops",
		CreatedAt:             march3.Add(9 * time.Hour),
	}
	rep := advance.Entry{
		ID:              "rep-1",
		AdvanceID:       "adv-1",
		ParentAdvanceID: "adv-1",
		EmployeeID:      "emp-1",
		EmployeeName:    "Dana",
		Date:            march3.AddDate(0, 0, 7),
		WeekStart:       march3.AddDate(0, 0, 7),
		Type:            advance.TypeRepayment,
		Amount:          generic.MustParseMoney("333.34"),
		Status:          advance.StatusCompleted,
		PaymentMethod:   advance.MethodPayrollDeduction,
		CreatedAt:       march3.Add(10 * time.Hour),
	}
	require.NoError(t, store.ApplyAdvanceChange(ctx, advance.Change{Append: []advance.Entry{adv, rep}}))

	// WHEN: Updating the parent and loading everything back
	adv.LastRepaymentDate = rep.Date
	adv.Notes = "first week deducted"
	require.NoError(t, store.ApplyAdvanceChange(ctx, advance.Change{Update: []advance.Entry{adv}}))
	loaded, err := store.LoadAdvanceEntries(ctx)
	require.NoError(t, err)

	// THEN: Every field survives
	require.Len(t, loaded, 2)
	got := loaded[0]
	assert.Equal(t, adv.ID, got.ID)
	assert.True(t, adv.Amount.Equal(got.Amount))
	assert.True(t, adv.WeeklyRepaymentAmount.Equal(got.WeeklyRepaymentAmount))
	assert.True(t, rep.Date.Equal(got.LastRepaymentDate))
	assert.True(t, march3.Equal(got.Date))
	assert.True(t, adv.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "first week deducted", got.Notes)
	assert.Equal(t, 3, got.RepaymentWeeks)
	assert.Equal(t, advance.MethodPayrollDeduction, loaded[1].PaymentMethod)
	assert.Equal(t, generic.EntryID("adv-1"), loaded[1].ParentAdvanceID)
	assert.True(t, loaded[1].LastRepaymentDate.IsZero())
}

func TestApplyAdvanceChange_IsAtomic(t *testing.T) {
	// GIVEN: A stored entry
	ctx := context.Background()
	store := newStore(t)
	e := advance.Entry{ID: "adv-1", AdvanceID: "adv-1", EmployeeID: "emp-1", Type: advance.TypeAdvance,
		Amount: generic.MustParseMoney("10"), Status: advance.StatusActive, Date: generic.Today(), WeekStart: generic.Today()}
	require.NoError(t, store.ApplyAdvanceChange(ctx, advance.Change{Append: []advance.Entry{e}}))

	// WHEN: A change deletes it but also appends a duplicate id
	err := store.ApplyAdvanceChange(ctx, advance.Change{
		Delete: []generic.EntryID{"adv-1"},
		Append: []advance.Entry{e, e},
	})

	// THEN: The whole change is rolled back
	require.Error(t, err)
	loaded, err := store.LoadAdvanceEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestApplyAdvanceChange_UpdateMissingFails(t *testing.T) {
	store := newStore(t)
	err := store.ApplyAdvanceChange(context.Background(), advance.Change{
		Update: []advance.Entry{{ID: "ghost", Status: advance.StatusCompleted}},
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestEscrowEntries_ClearDeleteUpdate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	day := generic.Date(2025, time.March, 4)
	mk := func(id string, typ escrow.EntryType, amount string) escrow.Entry {
		return escrow.Entry{ID: generic.EntryID(id), Date: day, WeekStart: generic.WeekStart(day),
			EmployeeID: "emp-1", EmployeeName: "Dana", Type: typ,
			Amount: generic.MustParseMoney(amount), CreatedAt: day.Add(time.Hour)}
	}

	require.NoError(t, store.ApplyEscrowChange(ctx, escrow.Change{Append: []escrow.Entry{
		mk("e1", escrow.TypeDeposit, "100"), mk("e2", escrow.TypeWithdrawal, "40"),
	}}))

	noted := mk("e1", escrow.TypeDeposit, "100")
	noted.Notes = "first"
	require.NoError(t, store.ApplyEscrowChange(ctx, escrow.Change{
		Update: []escrow.Entry{noted},
		Delete: []generic.EntryID{"e2"},
	}))

	loaded, err := store.LoadEscrowEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "first", loaded[0].Notes)
	assert.True(t, generic.Date(2025, time.March, 3).Equal(loaded[0].WeekStart))

	// Clear then append lands as a single snapshot
	require.NoError(t, store.ApplyEscrowChange(ctx, escrow.Change{Clear: true, Append: []escrow.Entry{mk("e3", escrow.TypeDeposit, "5")}}))
	loaded, err = store.LoadEscrowEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, generic.EntryID("e3"), loaded[0].ID)
}

func TestSettings_Upsert(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first := settings.Defaults()
	require.NoError(t, store.SaveAdvanceSettings(ctx, "emp-1", first))
	second := settings.AdvanceSettings{
		MaxAdvanceAmount:      generic.MustParseMoney("4500.50"),
		WeeklyRepaymentLimit:  generic.MustParseMoney("600"),
		MaxRepaymentWeeks:     20,
		AllowMultipleAdvances: true,
	}
	require.NoError(t, store.SaveAdvanceSettings(ctx, "emp-1", second))
	require.NoError(t, store.SaveEscrowTarget(ctx, "emp-1", generic.MustParseMoney("1500")))
	require.NoError(t, store.SaveEscrowTarget(ctx, "emp-1", generic.MustParseMoney("1750")))

	snap, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Advance, 1)
	got := snap.Advance["emp-1"]
	assert.True(t, second.MaxAdvanceAmount.Equal(got.MaxAdvanceAmount))
	assert.True(t, second.WeeklyRepaymentLimit.Equal(got.WeeklyRepaymentLimit))
	assert.Equal(t, 20, got.MaxRepaymentWeeks)
	assert.True(t, got.AllowMultipleAdvances)
	assert.Equal(t, "1750.00", snap.Targets["emp-1"].String())
}

func TestEmployees(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-2", Name: "Lee"}))
	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Dana"}))
	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Dana R."}))

	emp, err := store.LookupEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana R.", emp.Name)

	_, err = store.LookupEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dana R.", all[0].Name)
}

func TestRunMigrations_FileDatabase(t *testing.T) {
	// GIVEN: A fresh database file
	path := filepath.Join(t.TempDir(), "ledger.db")

	// WHEN: Running migrations twice
	v1, err := sqlite.RunMigrations(path)
	require.NoError(t, err)
	v2, err := sqlite.RunMigrations(path)
	require.NoError(t, err)

	// THEN: The second run is a no-op and the store opens on top
	assert.Equal(t, uint(1), v1)
	assert.Equal(t, v1, v2)
	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
