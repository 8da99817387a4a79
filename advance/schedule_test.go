package advance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/events"
	"github.com/warp/payroll-ledger/generic"
)

func TestProcessWeeklyRepayments_ThreeWeekAmortization(t *testing.T) {
	// GIVEN: 1000.00 advanced over 3 weeks (333.34 weekly)
	f := newFixture(t)
	adv := f.create(t, dana, "1000", 3)
	weeks := []time.Time{
		generic.Date(2025, time.March, 10),
		generic.Date(2025, time.March, 17),
		generic.Date(2025, time.March, 24),
	}

	// WHEN: Processing three consecutive payroll weeks
	var amounts []string
	for _, week := range weeks {
		reps, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, week, "payroll-run")
		require.NoError(t, err)
		require.Len(t, reps, 1)
		assert.Equal(t, advance.MethodPayrollDeduction, reps[0].PaymentMethod)
		assert.Equal(t, "payroll-run", reps[0].ProcessedBy)
		assert.True(t, week.Equal(reps[0].WeekStart))
		amounts = append(amounts, reps[0].Amount.String())
	}

	// THEN: The last installment is capped and the advance completes at zero
	assert.Equal(t, []string{"333.34", "333.34", "333.32"}, amounts)
	parent, _ := f.ledger.Entry(adv.ID)
	assert.Equal(t, advance.StatusCompleted, parent.Status)
	bal, _ := f.ledger.AdvanceBalance(adv.ID)
	assert.True(t, bal.IsZero())
	assert.Equal(t, events.AdvanceCompleted, f.events.Types()[len(f.events.Types())-1])

	// AND: A fourth week has nothing to do
	reps, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, generic.Date(2025, time.March, 31), "payroll-run")
	require.NoError(t, err)
	assert.Empty(t, reps)
	f.assertBalanceInvariant(t, dana.ID)
}

func TestProcessWeeklyRepayments_SameWeekTwiceIsNoop(t *testing.T) {
	// GIVEN: A week already processed
	f := newFixture(t)
	adv := f.create(t, dana, "600", 3)
	week := generic.Date(2025, time.March, 10)
	_, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, week, "")
	require.NoError(t, err)

	// WHEN: Processing it again
	reps, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, week, "")

	// THEN: No second deduction
	require.NoError(t, err)
	assert.Empty(t, reps)
	bal, _ := f.ledger.AdvanceBalance(adv.ID)
	assert.Equal(t, "400.00", bal.String())
}

func TestProcessWeeklyRepayments_SkipsAdvancesFromLaterWeeks(t *testing.T) {
	f := newFixture(t)
	f.create(t, dana, "600", 3)

	reps, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, generic.Date(2025, time.February, 24), "")

	require.NoError(t, err)
	assert.Empty(t, reps)
}

func TestProcessWeeklyRepayments_PersistenceFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	adv := f.create(t, dana, "600", 3)
	f.store.FailWrites = true

	_, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, generic.Date(2025, time.March, 10), "")

	assert.ErrorIs(t, err, generic.ErrPersistence)
	assert.Empty(t, f.ledger.CreditsFor(adv.ID))
}

func TestProcessWeeklyRepayments_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.ProcessWeeklyRepayments(f.ctx, "", march3, "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	_, err = f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, time.Time{}, "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestScheduledRepaymentForWeek_OnlyActiveAdvances(t *testing.T) {
	// GIVEN: A completed advance and no active ones
	f := newFixture(t)
	adv := f.create(t, dana, "100", 2)
	assert.Equal(t, "50.00", f.ledger.ScheduledRepaymentForWeek(dana.ID, march3).String())

	_, err := f.repay(dana, adv.ID, "100", march3)
	require.NoError(t, err)

	// THEN: Nothing is scheduled
	assert.True(t, f.ledger.ScheduledRepaymentForWeek(dana.ID, march3).IsZero())
}

func TestRepaymentSchedule(t *testing.T) {
	// GIVEN: 1000.00 over 3 weeks with the first week deducted
	f := newFixture(t)
	adv := f.create(t, dana, "1000", 3)
	_, err := f.ledger.ProcessWeeklyRepayments(f.ctx, dana.ID, generic.Date(2025, time.March, 10), "")
	require.NoError(t, err)

	// WHEN: Projecting the rest
	schedule, err := f.ledger.RepaymentSchedule(adv.ID)
	require.NoError(t, err)

	// THEN: Two installments remain on the following weeks
	require.Len(t, schedule, 2)
	assert.True(t, generic.Date(2025, time.March, 17).Equal(schedule[0].WeekStart))
	assert.Equal(t, "333.34", schedule[0].Amount.String())
	assert.Equal(t, "333.32", schedule[0].RemainingAfter.String())
	assert.True(t, generic.Date(2025, time.March, 24).Equal(schedule[1].WeekStart))
	assert.Equal(t, "333.32", schedule[1].Amount.String())
	assert.True(t, schedule[1].RemainingAfter.IsZero())

	_, err = f.ledger.RepaymentSchedule("missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
