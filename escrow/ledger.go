package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/events"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/metrics"
	"github.com/warp/payroll-ledger/settings"
)

// Ledger owns the escrow entries of every employee.
//
// Mutations for one employee are serialized by a per-employee lock; gate
// lets ClearAllData exclude every other mutation while it runs.
type Ledger struct {
	store    Store
	settings *settings.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	events   events.Publisher
	clock    generic.Clock
	newID    func() generic.EntryID

	locks *generic.KeyedMutex
	gate  sync.RWMutex

	mu      sync.RWMutex
	entries []Entry
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log.Named("escrow") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.events = p }
}

func WithClock(c generic.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithIDGenerator(f func() generic.EntryID) Option {
	return func(l *Ledger) { l.newID = f }
}

func NewLedger(store Store, settingsStore *settings.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		settings: settingsStore,
		log:      zap.NewNop(),
		events:   events.Nop{},
		clock:    generic.SystemClock,
		newID:    func() generic.EntryID { return generic.EntryID(uuid.NewString()) },
		locks:    generic.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory entries with the persisted ones. A failed
// load is logged and the ledger starts empty.
func (l *Ledger) Load(ctx context.Context) {
	entries, err := l.store.LoadEscrowEntries(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.log.Warn("failed to load escrow entries, starting empty", zap.Error(err))
		l.entries = nil
		return
	}
	l.entries = entries
	l.log.Info("escrow ledger loaded", zap.Int("entries", len(entries)))
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AddDeposit appends a DEPOSIT. There is no upper bound.
func (l *Ledger) AddDeposit(ctx context.Context, in MovementInput) (Entry, error) {
	if err := validateMovement(in); err != nil {
		return Entry{}, l.reject(err)
	}

	l.gate.RLock()
	defer l.gate.RUnlock()
	unlock := l.locks.Lock(in.Employee.ID)
	defer unlock()

	entry := l.newEntry(in, TypeDeposit)
	entry.ID = l.newID()
	if err := l.commit(ctx, "add deposit", Change{Append: []Entry{entry}}); err != nil {
		return Entry{}, err
	}

	l.metrics.DepositRecorded()
	l.log.Info("escrow deposit recorded",
		zap.String("employee_id", string(entry.EmployeeID)),
		zap.String("entry_id", string(entry.ID)),
		zap.Stringer("amount", entry.Amount))
	l.publish(ctx, events.Event{
		Type:       events.EscrowDeposit,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		Amount:     entry.Amount,
		OccurredAt: entry.CreatedAt,
	})
	return l.withBalance(entry), nil
}

// AddWithdrawal appends a WITHDRAWAL unless it would take the employee's
// running balance below zero at its date or at any later entry. A backdated
// withdrawal is checked against what was held at that date, not the current
// balance. On rejection an *InsufficientBalanceError is returned and nothing
// changes.
func (l *Ledger) AddWithdrawal(ctx context.Context, in MovementInput) (Entry, error) {
	if err := validateMovement(in); err != nil {
		return Entry{}, l.reject(err)
	}

	l.gate.RLock()
	defer l.gate.RUnlock()
	unlock := l.locks.Lock(in.Employee.ID)
	defer unlock()

	entry := l.newEntry(in, TypeWithdrawal)
	if low := lowestBalance(append(l.employeeEntries(in.Employee.ID), entry)); low.IsNegative() {
		return Entry{}, l.reject(&generic.InsufficientBalanceError{
			EmployeeID: in.Employee.ID,
			Available:  in.Amount.Add(low).ClampZero(),
			Requested:  in.Amount,
		})
	}
	available := l.CurrentBalance(in.Employee.ID)

	entry.ID = l.newID()
	if err := l.commit(ctx, "add withdrawal", Change{Append: []Entry{entry}}); err != nil {
		return Entry{}, err
	}

	l.metrics.WithdrawalRecorded()
	l.log.Info("escrow withdrawal recorded",
		zap.String("employee_id", string(entry.EmployeeID)),
		zap.String("entry_id", string(entry.ID)),
		zap.Stringer("amount", entry.Amount),
		zap.Stringer("remaining", available.Sub(entry.Amount)))
	l.publish(ctx, events.Event{
		Type:       events.EscrowWithdrawal,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		Amount:     entry.Amount,
		OccurredAt: entry.CreatedAt,
	})
	return l.withBalance(entry), nil
}

// UpdateNotes replaces the notes of an entry.
func (l *Ledger) UpdateNotes(ctx context.Context, id generic.EntryID, notes string) (Entry, error) {
	entry, ok := l.Entry(id)
	if !ok {
		return Entry{}, l.reject(fmt.Errorf("%w: escrow entry %s", generic.ErrNotFound, id))
	}

	l.gate.RLock()
	defer l.gate.RUnlock()
	unlock := l.locks.Lock(entry.EmployeeID)
	defer unlock()

	entry, ok = l.Entry(id)
	if !ok {
		return Entry{}, l.reject(fmt.Errorf("%w: escrow entry %s", generic.ErrNotFound, id))
	}
	entry.Notes = notes
	if err := l.commit(ctx, "update notes", Change{Update: []Entry{entry}}); err != nil {
		return Entry{}, err
	}
	return l.withBalance(entry), nil
}

// DeleteEntry removes an entry administratively. Balances are recomputed on
// the next read. Removing a deposit that later withdrawals were paid from is
// rejected with ErrDeleteForbidden, since the running balance would go
// negative.
func (l *Ledger) DeleteEntry(ctx context.Context, id generic.EntryID) error {
	entry, ok := l.Entry(id)
	if !ok {
		return l.reject(fmt.Errorf("%w: escrow entry %s", generic.ErrNotFound, id))
	}

	l.gate.RLock()
	defer l.gate.RUnlock()
	unlock := l.locks.Lock(entry.EmployeeID)
	defer unlock()

	if _, ok := l.Entry(id); !ok {
		return l.reject(fmt.Errorf("%w: escrow entry %s", generic.ErrNotFound, id))
	}
	remaining := l.employeeEntries(entry.EmployeeID)
	for i := range remaining {
		if remaining[i].ID == id {
			remaining = append(remaining[:i], remaining[i+1:]...)
			break
		}
	}
	if low := lowestBalance(remaining); low.IsNegative() {
		return l.reject(fmt.Errorf("%w: removing %s %s would take the escrow balance of %s to %s",
			generic.ErrDeleteForbidden, entry.Type, id, entry.EmployeeID, low))
	}

	if err := l.commit(ctx, "delete entry", Change{Delete: []generic.EntryID{id}}); err != nil {
		return err
	}

	l.log.Info("escrow entry deleted",
		zap.String("entry_id", string(id)),
		zap.String("employee_id", string(entry.EmployeeID)),
		zap.String("type", string(entry.Type)))
	l.publish(ctx, events.Event{
		Type:       events.EscrowEntryDeleted,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		Amount:     entry.Amount,
		OccurredAt: l.clock(),
	})
	return nil
}

// ClearAllData removes every escrow entry. Targets are kept.
func (l *Ledger) ClearAllData(ctx context.Context) error {
	l.gate.Lock()
	defer l.gate.Unlock()

	if err := l.commit(ctx, "clear escrow", Change{Clear: true}); err != nil {
		return err
	}
	l.log.Warn("escrow ledger cleared")
	l.publish(ctx, events.Event{Type: events.EscrowCleared, OccurredAt: l.clock()})
	return nil
}

// SetTargetAmount overrides the employee's escrow target.
func (l *Ledger) SetTargetAmount(ctx context.Context, employee generic.EmployeeID, target generic.Money) error {
	if err := l.settings.SetEscrowTarget(ctx, employee, target); err != nil {
		return l.reject(err)
	}
	l.log.Info("escrow target set",
		zap.String("employee_id", string(employee)),
		zap.Stringer("target", target))
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (l *Ledger) Entry(id generic.EntryID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// EntriesForEmployee returns the employee's entries newest first, each with
// the running balance as of that entry.
func (l *Ledger) EntriesForEmployee(employee generic.EmployeeID) []Entry {
	return withRunningBalances(l.employeeEntries(employee))
}

// AllEntries returns every entry newest first. Running balances are
// accumulated per employee.
func (l *Ledger) AllEntries() []Entry {
	l.mu.RLock()
	out := append([]Entry(nil), l.entries...)
	l.mu.RUnlock()
	return withRunningBalances(out)
}

// CurrentBalance is deposits minus withdrawals for the employee.
func (l *Ledger) CurrentBalance(employee generic.EmployeeID) generic.Money {
	return l.sum(func(e Entry) bool { return e.EmployeeID == employee }, Entry.SignedEffect)
}

func (l *Ledger) TotalDeposits(employee generic.EmployeeID) generic.Money {
	return l.sum(func(e Entry) bool { return e.EmployeeID == employee && e.Type == TypeDeposit }, amountOf)
}

func (l *Ledger) TotalWithdrawals(employee generic.EmployeeID) generic.Money {
	return l.sum(func(e Entry) bool { return e.EmployeeID == employee && e.Type == TypeWithdrawal }, amountOf)
}

// WeeklyDeposits sums deposits across all employees whose WeekStart is weekStart.
func (l *Ledger) WeeklyDeposits(weekStart time.Time) generic.Money {
	return l.sum(func(e Entry) bool {
		return e.Type == TypeDeposit && generic.SameDay(e.WeekStart, weekStart)
	}, amountOf)
}

// WeeklyWithdrawals sums withdrawals across all employees whose WeekStart is weekStart.
func (l *Ledger) WeeklyWithdrawals(weekStart time.Time) generic.Money {
	return l.sum(func(e Entry) bool {
		return e.Type == TypeWithdrawal && generic.SameDay(e.WeekStart, weekStart)
	}, amountOf)
}

func (l *Ledger) WeeklyTotals(weekStart time.Time) WeeklyTotals {
	return WeeklyTotals{
		WeekStart:   generic.Day(weekStart),
		Deposits:    l.WeeklyDeposits(weekStart),
		Withdrawals: l.WeeklyWithdrawals(weekStart),
	}
}

// TargetAmount returns the employee's target, or the default when unset.
func (l *Ledger) TargetAmount(employee generic.EmployeeID) generic.Money {
	return l.settings.EscrowTarget(employee)
}

// RemainingToTarget is max(0, target - balance).
func (l *Ledger) RemainingToTarget(employee generic.EmployeeID) generic.Money {
	return l.TargetAmount(employee).Sub(l.CurrentBalance(employee)).ClampZero()
}

// IsFullyFunded is true only when the balance strictly exceeds the target.
// Automatic deductions keep running at exactly the target so they never
// stall a cent short after rounding.
func (l *Ledger) IsFullyFunded(employee generic.EmployeeID) bool {
	return l.CurrentBalance(employee).GreaterThan(l.TargetAmount(employee))
}

// HasReachedTarget is true when the balance is at or above the target.
// Used for the "Fully Funded" display.
func (l *Ledger) HasReachedTarget(employee generic.EmployeeID) bool {
	return l.CurrentBalance(employee).GreaterOrEqual(l.TargetAmount(employee))
}

// Summary reads the employee's whole funding position at once.
func (l *Ledger) Summary(employee generic.EmployeeID) Summary {
	l.mu.RLock()
	balance, deposits, withdrawals := generic.Zero, generic.Zero, generic.Zero
	for _, e := range l.entries {
		if e.EmployeeID != employee {
			continue
		}
		balance = balance.Add(e.SignedEffect())
		switch e.Type {
		case TypeDeposit:
			deposits = deposits.Add(e.Amount)
		case TypeWithdrawal:
			withdrawals = withdrawals.Add(e.Amount)
		}
	}
	l.mu.RUnlock()

	target := l.TargetAmount(employee)
	return Summary{
		EmployeeID:        employee,
		Balance:           balance,
		TotalDeposits:     deposits,
		TotalWithdrawals:  withdrawals,
		Target:            target,
		RemainingToTarget: target.Sub(balance).ClampZero(),
		FullyFunded:       balance.GreaterThan(target),
		ReachedTarget:     balance.GreaterOrEqual(target),
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) commit(ctx context.Context, op string, c Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	started := time.Now()
	err := l.store.ApplyEscrowChange(ctx, c)
	l.metrics.ObserveApply(metrics.LedgerEscrow, started)
	if err != nil {
		l.metrics.PersistFailed(metrics.LedgerEscrow)
		l.log.Error("failed to persist escrow change", zap.String("op", op), zap.Error(err))
		return &generic.PersistenceError{Op: op, Err: err}
	}

	l.entries = c.Apply(l.entries)
	return nil
}

// employeeEntries copies the employee's entries in storage order.
func (l *Ledger) employeeEntries(employee generic.EmployeeID) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.EmployeeID == employee {
			out = append(out, e)
		}
	}
	return out
}

// newEntry builds an entry without an ID; callers assign one once the
// entry has passed its checks.
func (l *Ledger) newEntry(in MovementInput, typ EntryType) Entry {
	now := l.clock()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	date = generic.Day(date)
	week := in.WeekStart
	if week.IsZero() {
		week = generic.WeekStart(date)
	}
	return Entry{
		Date:         date,
		WeekStart:    generic.Day(week),
		EmployeeID:   in.Employee.ID,
		EmployeeName: in.Employee.Name,
		Type:         typ,
		Amount:       in.Amount,
		Notes:        in.Notes,
		CreatedAt:    now,
	}
}

// withBalance fills in the running balance as of entry.
func (l *Ledger) withBalance(entry Entry) Entry {
	for _, e := range l.EntriesForEmployee(entry.EmployeeID) {
		if e.ID == entry.ID {
			return e
		}
	}
	return entry
}

func (l *Ledger) sum(match func(Entry) bool, value func(Entry) generic.Money) generic.Money {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := generic.Zero
	for _, e := range l.entries {
		if match(e) {
			total = total.Add(value(e))
		}
	}
	return total
}

func (l *Ledger) reject(err error) error {
	l.metrics.Rejected(metrics.LedgerEscrow, err)
	l.log.Debug("escrow mutation rejected", zap.String("reason", generic.Reason(err)), zap.Error(err))
	return err
}

func (l *Ledger) publish(ctx context.Context, e events.Event) {
	if err := l.events.Publish(ctx, e); err != nil {
		l.log.Warn("failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("entry_id", string(e.EntryID)),
			zap.Error(err))
	}
}

func amountOf(e Entry) generic.Money { return e.Amount }

func validateMovement(in MovementInput) error {
	if in.Employee.ID == "" {
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", generic.ErrInvalidAmount, in.Amount)
	}
	if in.Amount.HasSubCentPrecision() {
		return fmt.Errorf("%w: amount must be in whole cents, got %s", generic.ErrInvalidAmount, in.Amount.Value)
	}
	return nil
}

// lowestBalance replays entries in date order and returns the lowest
// running balance reached, or zero when it never dips below zero.
func lowestBalance(entries []Entry) generic.Money {
	low := generic.Zero
	for _, e := range withRunningBalances(entries) {
		low = low.Min(e.Balance)
	}
	return low
}

// withRunningBalances sorts entries oldest first, accumulates a running
// balance per employee, then returns them newest first. Balances always
// reflect chronological order whatever the display order.
func withRunningBalances(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	running := make(map[generic.EmployeeID]generic.Money)
	for i := range entries {
		b := running[entries[i].EmployeeID].Add(entries[i].SignedEffect())
		running[entries[i].EmployeeID] = b
		entries[i].Balance = b
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}
