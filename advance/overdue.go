package advance

import (
	"sort"
	"time"

	"github.com/warp/payroll-ledger/generic"
)

// RepaymentInterval is how long an ACTIVE advance may go without a
// repayment before it is overdue.
const RepaymentInterval = 7 * 24 * time.Hour

// Overdue describes one advance past its expected repayment date.
type Overdue struct {
	Advance     Entry         `json:"advance"`
	Outstanding generic.Money `json:"outstanding"`
	DueDate     time.Time     `json:"due_date"`
	DaysOverdue int           `json:"days_overdue"`
}

// IsOverdue reports whether an ACTIVE advance with a positive balance has
// gone a full RepaymentInterval past its last repayment (or its creation
// date when it was never repaid) as of asOf.
func (l *Ledger) IsOverdue(advanceID generic.EntryID, asOf time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[advanceID]
	if !ok {
		return false
	}
	_, overdue := l.overdueLocked(l.entries[i], asOf)
	return overdue
}

// OverdueAdvances returns the employee's overdue advances, most overdue first.
func (l *Ledger) OverdueAdvances(employee generic.EmployeeID, asOf time.Time) []Overdue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Overdue
	for _, adv := range l.activeAdvancesLocked(employee) {
		if o, ok := l.overdueLocked(adv, asOf); ok {
			out = append(out, o)
		}
	}
	sortOverdue(out)
	return out
}

// AllOverdue returns overdue advances across every employee.
func (l *Ledger) AllOverdue(asOf time.Time) []Overdue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Overdue
	for _, e := range l.entries {
		if o, ok := l.overdueLocked(e, asOf); ok {
			out = append(out, o)
		}
	}
	sortOverdue(out)
	return out
}

func (l *Ledger) overdueLocked(adv Entry, asOf time.Time) (Overdue, bool) {
	if !adv.IsActiveAdvance() {
		return Overdue{}, false
	}
	outstanding := l.outstandingLocked(adv)
	if !outstanding.IsPositive() {
		return Overdue{}, false
	}

	baseline := adv.LastRepaymentDate
	if baseline.IsZero() {
		baseline = adv.Date
	}
	due := generic.Day(baseline).Add(RepaymentInterval)
	today := generic.Day(asOf)
	if !today.After(due) {
		return Overdue{}, false
	}
	return Overdue{
		Advance:     adv,
		Outstanding: outstanding,
		DueDate:     due,
		DaysOverdue: int(today.Sub(due).Hours() / 24),
	}, true
}

func sortOverdue(out []Overdue) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Advance.ID < out[j].Advance.ID
	})
}
