package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
	"github.com/warp/payroll-ledger/store/snapshot"
)

func TestLedgersSurviveRestart(t *testing.T) {
	// GIVEN: Ledgers writing through a snapshot store
	ctx := context.Background()
	dir := t.TempDir()
	store, err := snapshot.New(dir, nil)
	require.NoError(t, err)

	st := settings.NewStore(store, nil)
	st.Load(ctx)
	adv := advance.NewLedger(store, st)
	adv.Load(ctx)
	esc := escrow.NewLedger(store, st)
	esc.Load(ctx)

	emp := generic.Employee{ID: "emp-1", Name: "Dana"}
	entry, err := adv.CreateAdvance(ctx, advance.CreateAdvanceInput{
		Employee: emp, Amount: generic.MustParseMoney("1000"), Weeks: 3,
	})
	require.NoError(t, err)
	_, err = adv.RecordRepayment(ctx, advance.RepaymentInput{
		EmployeeID: emp.ID, AdvanceID: entry.ID, Amount: generic.MustParseMoney("333.34"),
	})
	require.NoError(t, err)
	_, err = esc.AddDeposit(ctx, escrow.MovementInput{Employee: emp, Amount: generic.MustParseMoney("150")})
	require.NoError(t, err)
	require.NoError(t, st.SetEscrowTarget(ctx, emp.ID, generic.MustParseMoney("900")))

	// WHEN: Everything is rebuilt from the same directory
	reopened, err := snapshot.New(dir, nil)
	require.NoError(t, err)
	st2 := settings.NewStore(reopened, nil)
	st2.Load(ctx)
	adv2 := advance.NewLedger(reopened, st2)
	adv2.Load(ctx)
	esc2 := escrow.NewLedger(reopened, st2)
	esc2.Load(ctx)

	// THEN: Balances, statuses and targets match
	bal, err := adv2.AdvanceBalance(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "666.66", bal.String())
	got, ok := adv2.Entry(entry.ID)
	require.True(t, ok)
	assert.Equal(t, "333.34", got.WeeklyRepaymentAmount.String())
	assert.False(t, got.LastRepaymentDate.IsZero())
	assert.Equal(t, "150.00", esc2.CurrentBalance(emp.ID).String())
	assert.Equal(t, "900.00", esc2.TargetAmount(emp.ID).String())

	// AND: No temp files are left behind
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{snapshot.AdvanceFile, snapshot.EscrowFile, snapshot.SettingsFile}, names)
}

func TestCorruptSnapshotMovedAside(t *testing.T) {
	// GIVEN: A garbage escrow file
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.EscrowFile), []byte("{not json"), 0o644))
	store, err := snapshot.New(dir, nil)
	require.NoError(t, err)

	// WHEN: Loading
	entries, err := store.LoadEscrowEntries(ctx)

	// THEN: The load fails, the file is preserved aside
	require.Error(t, err)
	assert.Empty(t, entries)
	_, statErr := os.Stat(filepath.Join(dir, snapshot.EscrowFile))
	assert.True(t, os.IsNotExist(statErr))
	matches, _ := filepath.Glob(filepath.Join(dir, snapshot.EscrowFile+".corrupt-*"))
	assert.Len(t, matches, 1)

	// AND: The ledger starts empty and can write a fresh snapshot
	ledger := escrow.NewLedger(store, settings.NewStore(store, nil))
	ledger.Load(ctx)
	_, err = ledger.AddDeposit(ctx, escrow.MovementInput{
		Employee: generic.Employee{ID: "emp-1"},
		Date:     generic.Date(2025, time.March, 3),
		Amount:   generic.MustParseMoney("10"),
	})
	require.NoError(t, err)
	reloaded, err := store.LoadEscrowEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded, 1)
}

func TestMissingFilesAreEmpty(t *testing.T) {
	store, err := snapshot.New(filepath.Join(t.TempDir(), "nested", "data"), nil)
	require.NoError(t, err)

	entries, err := store.LoadAdvanceEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	snap, err := store.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Advance)
}

func TestEmployees_Persisted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := snapshot.New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-2", Name: "Lee"}))
	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Dana"}))

	reopened, err := snapshot.New(dir, nil)
	require.NoError(t, err)
	all, err := reopened.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dana", all[0].Name)

	_, err = reopened.LookupEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
