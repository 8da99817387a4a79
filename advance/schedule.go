package advance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/events"
	"github.com/warp/payroll-ledger/generic"
)

// ScheduledInstallment is one projected weekly payment.
type ScheduledInstallment struct {
	WeekStart      time.Time
	Amount         generic.Money
	RemainingAfter generic.Money
}

// ScheduledRepaymentForWeek sums WeeklyRepaymentAmount over the employee's
// ACTIVE advances. It does not look at repayments already recorded for the
// week; ProcessWeeklyRepayments is the double-processing-safe path.
func (l *Ledger) ScheduledRepaymentForWeek(employee generic.EmployeeID, weekStart time.Time) generic.Money {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := generic.Zero
	for _, adv := range l.activeAdvancesLocked(employee) {
		total = total.Add(adv.WeeklyRepaymentAmount)
	}
	return total
}

// RepaymentSchedule projects the remaining installments of an advance onto
// payroll weeks, starting the week after the latest credited week (or the
// week after the advance for one never repaid).
func (l *Ledger) RepaymentSchedule(advanceID generic.EntryID) ([]ScheduledInstallment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[advanceID]
	if !ok {
		return nil, fmt.Errorf("%w: advance %s", generic.ErrNotFound, advanceID)
	}
	adv := l.entries[i]
	if !adv.IsAdvance() {
		return nil, fmt.Errorf("%w: entry %s is a %s, not an advance",
			generic.ErrReferentialIntegrity, advanceID, adv.Type)
	}
	if adv.Status != StatusActive {
		return nil, nil
	}

	week := adv.WeekStart
	for _, c := range l.creditsLocked(adv.ID) {
		if c.WeekStart.After(week) {
			week = c.WeekStart
		}
	}

	remaining := l.outstandingLocked(adv)
	var out []ScheduledInstallment
	for _, amount := range generic.Installments(remaining, adv.WeeklyRepaymentAmount) {
		week = week.AddDate(0, 0, 7)
		remaining = remaining.Sub(amount)
		out = append(out, ScheduledInstallment{WeekStart: week, Amount: amount, RemainingAfter: remaining})
	}
	return out, nil
}

// ProcessWeeklyRepayments records one PAYROLL_DEDUCTION repayment for every
// ACTIVE advance of the employee that has no repayment in weekStart yet.
// Each installment is the advance's weekly amount capped at what is still
// outstanding, so the final week never overpays. The batch is atomic.
func (l *Ledger) ProcessWeeklyRepayments(ctx context.Context, employee generic.EmployeeID, weekStart time.Time, processedBy string) ([]Entry, error) {
	if employee == "" {
		return nil, l.reject(fmt.Errorf("%w: employee is required", generic.ErrInvalidInput))
	}
	if weekStart.IsZero() {
		return nil, l.reject(fmt.Errorf("%w: week start is required", generic.ErrInvalidInput))
	}
	week := generic.Day(weekStart)

	unlock := l.locks.Lock(employee)
	defer unlock()

	now := l.clock()
	date := generic.Day(now)

	var change Change
	var completed []Entry

	l.mu.RLock()
	for _, adv := range l.activeAdvancesLocked(employee) {
		if week.Before(adv.WeekStart) || l.repaidInWeekLocked(adv.ID, week) {
			continue
		}
		outstanding := l.outstandingLocked(adv)
		amount := generic.NextInstallment(outstanding, adv.WeeklyRepaymentAmount)
		if !amount.IsPositive() {
			continue
		}

		id := l.newID()
		change.Append = append(change.Append, Entry{
			ID:              id,
			AdvanceID:       adv.ID,
			ParentAdvanceID: adv.ID,
			EmployeeID:      adv.EmployeeID,
			EmployeeName:    adv.EmployeeName,
			Date:            date,
			WeekStart:       week,
			Type:            TypeRepayment,
			Amount:          amount,
			Status:          StatusCompleted,
			PaymentMethod:   MethodPayrollDeduction,
			Notes:           "Scheduled weekly deduction",
			ProcessedBy:     processedBy,
			CreatedAt:       now,
		})

		updated := adv
		if date.After(updated.LastRepaymentDate) {
			updated.LastRepaymentDate = date
		}
		if !outstanding.Sub(amount).IsPositive() {
			updated.Status = StatusCompleted
			completed = append(completed, updated)
		}
		change.Update = append(change.Update, updated)
	}
	l.mu.RUnlock()

	if change.Empty() {
		return nil, nil
	}
	if err := l.commit(ctx, "process weekly repayments", change); err != nil {
		return nil, err
	}

	total := generic.Zero
	for _, rep := range change.Append {
		total = total.Add(rep.Amount)
		l.metrics.RepaymentRecorded(string(MethodPayrollDeduction), rep.Amount)
		l.publish(ctx, events.Event{
			Type:       events.AdvanceRepaid,
			EmployeeID: rep.EmployeeID,
			EntryID:    rep.ID,
			AdvanceID:  rep.ParentAdvanceID,
			Amount:     rep.Amount,
			OccurredAt: now,
		})
	}
	for _, adv := range completed {
		l.publish(ctx, events.Event{
			Type:       events.AdvanceCompleted,
			EmployeeID: adv.EmployeeID,
			EntryID:    adv.ID,
			AdvanceID:  adv.ID,
			Status:     string(StatusCompleted),
			OccurredAt: now,
		})
	}
	l.log.Info("weekly repayments processed",
		zap.String("employee_id", string(employee)),
		zap.String("week_start", generic.FormatDate(week)),
		zap.Int("repayments", len(change.Append)),
		zap.Int("completed", len(completed)),
		zap.Stringer("total", total))
	return change.Append, nil
}

func (l *Ledger) repaidInWeekLocked(advanceID generic.EntryID, week time.Time) bool {
	for _, e := range l.entries {
		if e.Type == TypeRepayment && e.ParentAdvanceID == advanceID && generic.SameDay(e.WeekStart, week) {
			return true
		}
	}
	return false
}
