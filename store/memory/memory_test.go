package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/store/memory"
)

func TestApplyAdvanceChange_Order(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	a := advance.Entry{ID: "a", Status: advance.StatusActive}
	b := advance.Entry{ID: "b", Status: advance.StatusActive}
	require.NoError(t, m.ApplyAdvanceChange(ctx, advance.Change{Append: []advance.Entry{a, b}}))

	a.Status = advance.StatusCompleted
	c := advance.Entry{ID: "c"}
	require.NoError(t, m.ApplyAdvanceChange(ctx, advance.Change{
		Update: []advance.Entry{a},
		Delete: []generic.EntryID{"b"},
		Append: []advance.Entry{c},
	}))

	got, err := m.LoadAdvanceEntries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, advance.StatusCompleted, got[0].Status)
	assert.Equal(t, generic.EntryID("c"), got[1].ID)
}

func TestFailWrites(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	m.FailWrites = true

	err := m.ApplyAdvanceChange(ctx, advance.Change{Append: []advance.Entry{{ID: "a"}}})

	assert.ErrorIs(t, err, memory.ErrWriteFailed)
	got, _ := m.LoadAdvanceEntries(ctx)
	assert.Empty(t, got)
}

func TestEmployees(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.SaveEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Dana"}))

	emp, err := m.LookupEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana", emp.Name)
	_, err = m.LookupEmployee(ctx, "emp-2")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
