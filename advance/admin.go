package advance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/events"
	"github.com/warp/payroll-ledger/generic"
)

// =============================================================================
// STATUS TRANSITIONS - Administrative closes of an ACTIVE advance
// =============================================================================

// CancelAdvance marks an ACTIVE advance CANCELLED. Only cancelled advances
// can later be deleted.
func (l *Ledger) CancelAdvance(ctx context.Context, advanceID generic.EntryID, by string) (Entry, error) {
	return l.transition(ctx, advanceID, StatusCancelled, by)
}

// ForgiveAdvance marks an ACTIVE advance FORGIVEN; the remaining balance is
// no longer expected to be repaid.
func (l *Ledger) ForgiveAdvance(ctx context.Context, advanceID generic.EntryID, by string) (Entry, error) {
	return l.transition(ctx, advanceID, StatusForgiven, by)
}

// MarkDefaulted marks an ACTIVE advance DEFAULTED.
func (l *Ledger) MarkDefaulted(ctx context.Context, advanceID generic.EntryID, by string) (Entry, error) {
	return l.transition(ctx, advanceID, StatusDefaulted, by)
}

func (l *Ledger) transition(ctx context.Context, advanceID generic.EntryID, to Status, by string) (Entry, error) {
	adv, ok := l.Entry(advanceID)
	if !ok {
		return Entry{}, l.reject(fmt.Errorf("%w: advance %s", generic.ErrNotFound, advanceID))
	}

	unlock := l.locks.Lock(adv.EmployeeID)
	defer unlock()

	l.mu.RLock()
	adv, _, err := l.creditableAdvanceLocked(adv.EmployeeID, advanceID)
	l.mu.RUnlock()
	if err != nil {
		return Entry{}, l.reject(err)
	}

	from := adv.Status
	adv.Status = to
	if err := l.commit(ctx, "set advance status", Change{Update: []Entry{adv}}); err != nil {
		return Entry{}, err
	}

	l.log.Info("advance status changed",
		zap.String("advance_id", string(adv.ID)),
		zap.String("employee_id", string(adv.EmployeeID)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("by", by))
	l.publish(ctx, events.Event{
		Type:       events.AdvanceStatusChanged,
		EmployeeID: adv.EmployeeID,
		EntryID:    adv.ID,
		AdvanceID:  adv.ID,
		Amount:     adv.Amount,
		Status:     string(to),
		OccurredAt: l.clock(),
	})
	return adv, nil
}

// =============================================================================
// DELETION
// =============================================================================

// DeleteEntry removes an entry administratively.
//
//   - REPAYMENT/ADJUSTMENT: removed; a COMPLETED parent whose balance becomes
//     positive again is reopened (ACTIVE) and its LastRepaymentDate is
//     recomputed from the remaining repayments. Reopening is refused with
//     ErrConcurrentAdvance when the employee already has another ACTIVE
//     advance and their settings allow only one.
//   - ADVANCE: only when CANCELLED; its credits are removed with it so no
//     credit is left pointing at a missing advance.
//   - Any other ADVANCE is rejected with ErrDeleteForbidden.
func (l *Ledger) DeleteEntry(ctx context.Context, id generic.EntryID) error {
	entry, ok := l.Entry(id)
	if !ok {
		return l.reject(fmt.Errorf("%w: entry %s", generic.ErrNotFound, id))
	}

	unlock := l.locks.Lock(entry.EmployeeID)
	defer unlock()

	l.mu.RLock()
	change, err := l.deleteChangeLocked(id)
	l.mu.RUnlock()
	if err != nil {
		return l.reject(err)
	}

	if err := l.commit(ctx, "delete entry", change); err != nil {
		return err
	}

	l.log.Info("advance entry deleted",
		zap.String("entry_id", string(id)),
		zap.String("type", string(entry.Type)),
		zap.String("employee_id", string(entry.EmployeeID)),
		zap.Int("removed", len(change.Delete)),
		zap.Int("reopened", len(change.Update)))
	l.publish(ctx, events.Event{
		Type:       events.AdvanceEntryDeleted,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		AdvanceID:  entry.AdvanceID,
		Amount:     entry.Amount,
		OccurredAt: l.clock(),
	})
	return nil
}

func (l *Ledger) deleteChangeLocked(id generic.EntryID) (Change, error) {
	i, ok := l.index[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: entry %s", generic.ErrNotFound, id)
	}
	entry := l.entries[i]

	if entry.IsAdvance() {
		if entry.Status != StatusCancelled {
			return Change{}, fmt.Errorf("%w: advance %s is %s; cancel it first",
				generic.ErrDeleteForbidden, id, entry.Status)
		}
		change := Change{Delete: []generic.EntryID{id}}
		for _, c := range l.creditsLocked(id) {
			change.Delete = append(change.Delete, c.ID)
		}
		return change, nil
	}

	change := Change{Delete: []generic.EntryID{id}}
	if !entry.IsCredit() {
		return change, nil
	}
	pi, ok := l.index[entry.ParentAdvanceID]
	if !ok {
		return change, nil
	}

	parent := l.entries[pi]
	changed := false
	if last := l.lastRepaymentExcludingLocked(parent.ID, id); !last.Equal(parent.LastRepaymentDate) {
		parent.LastRepaymentDate = last
		changed = true
	}
	if parent.Status == StatusCompleted && l.outstandingLocked(parent).Add(entry.Amount).IsPositive() {
		if !l.settings.AdvanceSettings(parent.EmployeeID).AllowMultipleAdvances {
			if active := l.activeAdvancesLocked(parent.EmployeeID); len(active) > 0 {
				return Change{}, fmt.Errorf("%w: reopening %s would leave %s with advance %s also outstanding",
					generic.ErrConcurrentAdvance, parent.ID, parent.EmployeeID, active[0].ID)
			}
		}
		parent.Status = StatusActive
		changed = true
	}
	if changed {
		change.Update = []Entry{parent}
	}
	return change, nil
}

func (l *Ledger) lastRepaymentExcludingLocked(advanceID, excluded generic.EntryID) (last time.Time) {
	for _, c := range l.creditsLocked(advanceID) {
		if c.ID != excluded && c.Type == TypeRepayment && c.Date.After(last) {
			last = c.Date
		}
	}
	return last
}
