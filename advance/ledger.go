/*
ledger.go - Cash-advance ledger with creation-time policy enforcement

PURPOSE:
  The Ledger owns the advance entries of every employee. It validates each
  mutation against the employee's AdvanceSettings and the current entries,
  persists the change, and only then updates its in-memory view.

CRITICAL INVARIANTS:
  1. Every REPAYMENT/ADJUSTMENT references an existing ADVANCE of the same
     employee through ParentAdvanceID.
  2. An advance's outstanding balance (amount - credits) never goes negative:
     credits larger than the outstanding balance are rejected.
  3. With AllowMultipleAdvances=false an employee has at most one ACTIVE
     advance. Mutations are serialized per employee so two concurrent
     creations cannot both pass this check.
  4. Persist-then-apply: a failed store write leaves the ledger unchanged.

CONCURRENCY:
  locks (per employee) serialize mutations for one employee.
  mu guards the in-memory entries; commits hold it for the store write so
  the store and memory see changes in the same order.

EXAMPLE:
  entry, err := ledger.CreateAdvance(ctx, advance.CreateAdvanceInput{
      Employee: generic.Employee{ID: "emp-1", Name: "Dana"},
      Amount:   generic.MustParseMoney("1000"),
      Weeks:    3,
  })
  // entry.WeeklyRepaymentAmount == 333.34

SEE ALSO:
  - schedule.go: ScheduledRepaymentForWeek, ProcessWeeklyRepayments
  - overdue.go: Overdue detection
  - admin.go: Status transitions and deletion
*/
package advance

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

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    Store
	settings *settings.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	events   events.Publisher
	clock    generic.Clock
	newID    func() generic.EntryID

	locks *generic.KeyedMutex

	mu      sync.RWMutex
	entries []Entry
	index   map[generic.EntryID]int
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log.Named("advance") }
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

// NewLedger builds an empty ledger. Call Load to read persisted entries.
func NewLedger(store Store, settingsStore *settings.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		settings: settingsStore,
		log:      zap.NewNop(),
		events:   events.Nop{},
		clock:    generic.SystemClock,
		newID:    func() generic.EntryID { return generic.EntryID(uuid.NewString()) },
		locks:    generic.NewKeyedMutex(),
		index:    make(map[generic.EntryID]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory entries with the persisted ones. A failed
// load is logged and the ledger starts empty; it never fails startup.
func (l *Ledger) Load(ctx context.Context) {
	entries, err := l.store.LoadAdvanceEntries(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.log.Warn("failed to load advance entries, starting empty", zap.Error(err))
		l.entries = nil
		l.reindexLocked()
		return
	}

	sortChronological(entries)
	l.entries = entries
	l.reindexLocked()
	l.checkIntegrityLocked()
	l.log.Info("advance ledger loaded", zap.Int("entries", len(entries)))
}

// checkIntegrityLocked logs credits whose parent advance is missing. They
// are kept (the ledger is append-only) but will never count toward a balance.
func (l *Ledger) checkIntegrityLocked() {
	for _, e := range l.entries {
		if !e.IsCredit() {
			continue
		}
		i, ok := l.index[e.ParentAdvanceID]
		if !ok || !l.entries[i].IsAdvance() || l.entries[i].EmployeeID != e.EmployeeID {
			l.log.Warn("orphaned advance credit",
				zap.String("entry_id", string(e.ID)),
				zap.String("parent_advance_id", string(e.ParentAdvanceID)))
		}
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateAdvance opens a new ACTIVE advance after checking the employee's
// settings. WeeklyRepaymentAmount is amount/weeks rounded up to the cent.
func (l *Ledger) CreateAdvance(ctx context.Context, in CreateAdvanceInput) (Entry, error) {
	if in.Employee.ID == "" {
		return Entry{}, l.reject(fmt.Errorf("%w: employee is required", generic.ErrInvalidInput))
	}
	if err := validateAmount(in.Amount, "advance amount"); err != nil {
		return Entry{}, l.reject(err)
	}

	unlock := l.locks.Lock(in.Employee.ID)
	defer unlock()

	policy := l.settings.AdvanceSettings(in.Employee.ID)

	if in.Weeks < 1 || in.Weeks > policy.MaxRepaymentWeeks {
		return Entry{}, l.reject(fmt.Errorf("%w: %d weeks requested, allowed 1-%d",
			generic.ErrInvalidWeeks, in.Weeks, policy.MaxRepaymentWeeks))
	}
	if in.Amount.GreaterThan(policy.MaxAdvanceAmount) {
		return Entry{}, l.reject(&generic.PolicyViolationError{
			EmployeeID: in.Employee.ID,
			Rule:       "max_advance_amount",
			Limit:      policy.MaxAdvanceAmount.String(),
			Requested:  in.Amount.String(),
		})
	}

	weekly := generic.Amortize(in.Amount, in.Weeks)
	if weekly.GreaterThan(policy.WeeklyRepaymentLimit) {
		return Entry{}, l.reject(&generic.PolicyViolationError{
			EmployeeID: in.Employee.ID,
			Rule:       "weekly_repayment_limit",
			Limit:      policy.WeeklyRepaymentLimit.String(),
			Requested:  weekly.String(),
		})
	}

	if !policy.AllowMultipleAdvances {
		l.mu.RLock()
		active := l.activeAdvancesLocked(in.Employee.ID)
		l.mu.RUnlock()
		if len(active) > 0 {
			return Entry{}, l.reject(fmt.Errorf("%w: %s has advance %s outstanding",
				generic.ErrConcurrentAdvance, in.Employee.ID, active[0].ID))
		}
	}

	now := l.clock()
	date, week := resolveDates(in.Date, in.WeekStart, now)
	id := l.newID()
	entry := Entry{
		ID:                    id,
		AdvanceID:             id,
		EmployeeID:            in.Employee.ID,
		EmployeeName:          in.Employee.Name,
		Date:                  date,
		WeekStart:             week,
		Type:                  TypeAdvance,
		Amount:                in.Amount,
		WeeklyRepaymentAmount: weekly,
		RepaymentWeeks:        in.Weeks,
		Status:                StatusActive,
		Notes:                 in.Notes,
		ApprovedBy:            in.ApprovedBy,
		CreatedAt:             now,
	}

	if err := l.commit(ctx, "create advance", Change{Append: []Entry{entry}}); err != nil {
		return Entry{}, err
	}

	l.metrics.AdvanceCreated(entry.Amount)
	l.log.Info("advance created",
		zap.String("employee_id", string(entry.EmployeeID)),
		zap.String("advance_id", string(entry.ID)),
		zap.Stringer("amount", entry.Amount),
		zap.Stringer("weekly", weekly),
		zap.Int("weeks", in.Weeks))
	l.publish(ctx, events.Event{
		Type:       events.AdvanceCreated,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		AdvanceID:  entry.ID,
		Amount:     entry.Amount,
		Status:     string(entry.Status),
		OccurredAt: now,
	})
	return entry, nil
}

// RecordRepayment applies a repayment to an ACTIVE advance of the employee.
// The advance completes once its outstanding balance reaches zero.
// Repayments larger than the outstanding balance are rejected.
func (l *Ledger) RecordRepayment(ctx context.Context, in RepaymentInput) (Entry, error) {
	method := in.Method
	if method == "" {
		method = MethodPayrollDeduction
	}
	if !method.Valid() {
		return Entry{}, l.reject(fmt.Errorf("%w: unknown payment method %q", generic.ErrInvalidInput, in.Method))
	}

	credit := Entry{
		Type:            TypeRepayment,
		PaymentMethod:   method,
		ReferenceNumber: in.ReferenceNumber,
		Notes:           in.Notes,
		ProcessedBy:     in.ProcessedBy,
	}
	entry, completed, err := l.applyCredit(ctx, in.EmployeeID, in.AdvanceID, in.Amount, in.Date, in.WeekStart, credit)
	if err != nil {
		return Entry{}, err
	}

	l.metrics.RepaymentRecorded(string(method), entry.Amount)
	l.publish(ctx, events.Event{
		Type:       events.AdvanceRepaid,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		AdvanceID:  entry.ParentAdvanceID,
		Amount:     entry.Amount,
		OccurredAt: entry.CreatedAt,
	})
	if completed {
		l.publishCompleted(ctx, entry)
	}
	return entry, nil
}

// RecordAdjustment applies a non-cash credit to an ACTIVE advance.
func (l *Ledger) RecordAdjustment(ctx context.Context, in AdjustmentInput) (Entry, error) {
	credit := Entry{
		Type:        TypeAdjustment,
		Notes:       in.Notes,
		ProcessedBy: in.ProcessedBy,
	}
	entry, completed, err := l.applyCredit(ctx, in.EmployeeID, in.AdvanceID, in.Amount, in.Date, in.WeekStart, credit)
	if err != nil {
		return Entry{}, err
	}

	l.publish(ctx, events.Event{
		Type:       events.AdvanceAdjusted,
		EmployeeID: entry.EmployeeID,
		EntryID:    entry.ID,
		AdvanceID:  entry.ParentAdvanceID,
		Amount:     entry.Amount,
		OccurredAt: entry.CreatedAt,
	})
	if completed {
		l.publishCompleted(ctx, entry)
	}
	return entry, nil
}

// applyCredit validates and commits one repayment or adjustment. template
// carries the type-specific fields.
func (l *Ledger) applyCredit(ctx context.Context, employee generic.EmployeeID, advanceID generic.EntryID,
	amount generic.Money, date, weekStart time.Time, template Entry) (Entry, bool, error) {

	if employee == "" {
		return Entry{}, false, l.reject(fmt.Errorf("%w: employee is required", generic.ErrInvalidInput))
	}
	if err := validateAmount(amount, "repayment amount"); err != nil {
		return Entry{}, false, l.reject(err)
	}

	unlock := l.locks.Lock(employee)
	defer unlock()

	l.mu.RLock()
	adv, outstanding, err := l.creditableAdvanceLocked(employee, advanceID)
	l.mu.RUnlock()
	if err != nil {
		return Entry{}, false, l.reject(err)
	}
	if amount.GreaterThan(outstanding) {
		return Entry{}, false, l.reject(&generic.OverpaymentError{
			AdvanceID:   adv.ID,
			Outstanding: outstanding,
			Requested:   amount,
		})
	}

	now := l.clock()
	d, week := resolveDates(date, weekStart, now)

	credit := template
	credit.ID = l.newID()
	credit.AdvanceID = adv.ID
	credit.ParentAdvanceID = adv.ID
	credit.EmployeeID = adv.EmployeeID
	credit.EmployeeName = adv.EmployeeName
	credit.Date = d
	credit.WeekStart = week
	credit.Amount = amount
	credit.Status = StatusCompleted
	credit.CreatedAt = now

	updated := adv
	if credit.Type == TypeRepayment && d.After(updated.LastRepaymentDate) {
		updated.LastRepaymentDate = d
	}
	completed := !outstanding.Sub(amount).IsPositive()
	if completed {
		updated.Status = StatusCompleted
	}

	op := "record " + string(credit.Type)
	if err := l.commit(ctx, op, Change{Append: []Entry{credit}, Update: []Entry{updated}}); err != nil {
		return Entry{}, false, err
	}

	l.log.Info("advance credited",
		zap.String("type", string(credit.Type)),
		zap.String("employee_id", string(employee)),
		zap.String("advance_id", string(adv.ID)),
		zap.Stringer("amount", amount),
		zap.Stringer("remaining", outstanding.Sub(amount)),
		zap.Bool("completed", completed))
	return credit, completed, nil
}

// creditableAdvanceLocked resolves advanceID to an ACTIVE advance of employee
// and returns its outstanding balance.
func (l *Ledger) creditableAdvanceLocked(employee generic.EmployeeID, advanceID generic.EntryID) (Entry, generic.Money, error) {
	if advanceID == "" {
		return Entry{}, generic.Zero, fmt.Errorf("%w: advance is required", generic.ErrInvalidInput)
	}
	i, ok := l.index[advanceID]
	if !ok {
		return Entry{}, generic.Zero, fmt.Errorf("%w: advance %s", generic.ErrNotFound, advanceID)
	}
	adv := l.entries[i]
	if !adv.IsAdvance() {
		return Entry{}, generic.Zero, fmt.Errorf("%w: entry %s is a %s, not an advance",
			generic.ErrReferentialIntegrity, advanceID, adv.Type)
	}
	if adv.EmployeeID != employee {
		return Entry{}, generic.Zero, fmt.Errorf("%w: advance %s does not belong to %s",
			generic.ErrReferentialIntegrity, advanceID, employee)
	}
	if adv.Status != StatusActive {
		return Entry{}, generic.Zero, fmt.Errorf("%w: advance %s is %s", generic.ErrNotActive, advanceID, adv.Status)
	}
	return adv, l.outstandingLocked(adv), nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Entry returns the entry with the given id.
func (l *Ledger) Entry(id generic.EntryID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// EntriesForEmployee returns the employee's entries, newest first.
func (l *Ledger) EntriesForEmployee(employee generic.EmployeeID) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.EmployeeID == employee {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out
}

// AllEntries returns every entry, newest first.
func (l *Ledger) AllEntries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := append([]Entry(nil), l.entries...)
	sortNewestFirst(out)
	return out
}

// ActiveAdvances returns the employee's ACTIVE advances, oldest first.
func (l *Ledger) ActiveAdvances(employee generic.EmployeeID) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeAdvancesLocked(employee)
}

// CreditsFor returns the repayments and adjustments of one advance,
// oldest first.
func (l *Ledger) CreditsFor(advanceID generic.EntryID) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.creditsLocked(advanceID)
}

// Employees lists every employee with at least one entry.
func (l *Ledger) Employees() []generic.EmployeeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[generic.EmployeeID]bool)
	var out []generic.EmployeeID
	for _, e := range l.entries {
		if !seen[e.EmployeeID] {
			seen[e.EmployeeID] = true
			out = append(out, e.EmployeeID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AdvanceBalance returns amount minus all credits applied to the advance,
// never below zero.
func (l *Ledger) AdvanceBalance(advanceID generic.EntryID) (generic.Money, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[advanceID]
	if !ok {
		return generic.Zero, fmt.Errorf("%w: advance %s", generic.ErrNotFound, advanceID)
	}
	adv := l.entries[i]
	if !adv.IsAdvance() {
		return generic.Zero, fmt.Errorf("%w: entry %s is a %s, not an advance",
			generic.ErrReferentialIntegrity, advanceID, adv.Type)
	}
	return l.outstandingLocked(adv).ClampZero(), nil
}

// TotalAdvanced sums ADVANCE amounts for the employee, any status.
func (l *Ledger) TotalAdvanced(employee generic.EmployeeID) generic.Money {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := generic.Zero
	for _, e := range l.entries {
		if e.EmployeeID == employee && e.IsAdvance() {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// TotalRepaid sums REPAYMENT and ADJUSTMENT amounts for the employee.
func (l *Ledger) TotalRepaid(employee generic.EmployeeID) generic.Money {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := generic.Zero
	for _, e := range l.entries {
		if e.EmployeeID == employee && e.IsCredit() {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// CurrentBalance is TotalAdvanced - TotalRepaid, computed from signed effects.
func (l *Ledger) CurrentBalance(employee generic.EmployeeID) generic.Money {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := generic.Zero
	for _, e := range l.entries {
		if e.EmployeeID == employee {
			total = total.Add(e.SignedEffect())
		}
	}
	return total
}

// Summary aggregates the employee's position as of asOf.
func (l *Ledger) Summary(employee generic.EmployeeID, asOf time.Time) Summary {
	s := Summary{
		EmployeeID:     employee,
		TotalAdvanced:  l.TotalAdvanced(employee),
		TotalRepaid:    l.TotalRepaid(employee),
		CurrentBalance: l.CurrentBalance(employee),
	}
	s.ActiveAdvances = len(l.ActiveAdvances(employee))
	s.ScheduledThisWeek = l.ScheduledRepaymentForWeek(employee, generic.WeekStart(asOf))
	s.Overdue = len(l.OverdueAdvances(employee, asOf))
	return s
}

// EmployeeSettings returns the employee's advance policy (defaults on miss).
func (l *Ledger) EmployeeSettings(employee generic.EmployeeID) settings.AdvanceSettings {
	return l.settings.AdvanceSettings(employee)
}

// UpdateEmployeeSettings overwrites the employee's policy. Existing advances
// are not re-validated.
func (l *Ledger) UpdateEmployeeSettings(ctx context.Context, employee generic.EmployeeID, s settings.AdvanceSettings) error {
	unlock := l.locks.Lock(employee)
	defer unlock()
	if err := l.settings.UpdateAdvanceSettings(ctx, employee, s); err != nil {
		return l.reject(err)
	}
	l.log.Info("advance settings updated",
		zap.String("employee_id", string(employee)),
		zap.Stringer("max_advance_amount", s.MaxAdvanceAmount),
		zap.Stringer("weekly_repayment_limit", s.WeeklyRepaymentLimit),
		zap.Int("max_repayment_weeks", s.MaxRepaymentWeeks),
		zap.Bool("allow_multiple_advances", s.AllowMultipleAdvances))
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// commit persists c and, only on success, applies it in memory.
func (l *Ledger) commit(ctx context.Context, op string, c Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	started := time.Now()
	err := l.store.ApplyAdvanceChange(ctx, c)
	l.metrics.ObserveApply(metrics.LedgerAdvance, started)
	if err != nil {
		l.metrics.PersistFailed(metrics.LedgerAdvance)
		l.log.Error("failed to persist advance change", zap.String("op", op), zap.Error(err))
		return &generic.PersistenceError{Op: op, Err: err}
	}

	l.entries = c.Apply(l.entries)
	l.reindexLocked()
	return nil
}

func (l *Ledger) reindexLocked() {
	l.index = make(map[generic.EntryID]int, len(l.entries))
	for i, e := range l.entries {
		l.index[e.ID] = i
	}
}

func (l *Ledger) reject(err error) error {
	l.metrics.Rejected(metrics.LedgerAdvance, err)
	l.log.Debug("advance mutation rejected", zap.String("reason", generic.Reason(err)), zap.Error(err))
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

func (l *Ledger) publishCompleted(ctx context.Context, credit Entry) {
	l.publish(ctx, events.Event{
		Type:       events.AdvanceCompleted,
		EmployeeID: credit.EmployeeID,
		EntryID:    credit.ParentAdvanceID,
		AdvanceID:  credit.ParentAdvanceID,
		Status:     string(StatusCompleted),
		OccurredAt: credit.CreatedAt,
	})
}

func (l *Ledger) activeAdvancesLocked(employee generic.EmployeeID) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.EmployeeID == employee && e.IsActiveAdvance() {
			out = append(out, e)
		}
	}
	sortChronological(out)
	return out
}

func (l *Ledger) creditsLocked(advanceID generic.EntryID) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.IsCredit() && e.ParentAdvanceID == advanceID {
			out = append(out, e)
		}
	}
	sortChronological(out)
	return out
}

// outstandingLocked is the advance amount minus every credit pointing at it.
// It may be negative for data loaded from an older, inconsistent store.
func (l *Ledger) outstandingLocked(adv Entry) generic.Money {
	out := adv.Amount
	for _, e := range l.entries {
		if e.IsCredit() && e.ParentAdvanceID == adv.ID && e.EmployeeID == adv.EmployeeID {
			out = out.Sub(e.Amount)
		}
	}
	return out
}

func validateAmount(amount generic.Money, what string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive, got %s", generic.ErrInvalidAmount, what, amount)
	}
	if amount.HasSubCentPrecision() {
		return fmt.Errorf("%w: %s must be in whole cents, got %s", generic.ErrInvalidAmount, what, amount.Value)
	}
	return nil
}

// resolveDates fills in today and its payroll week when the caller left
// them out, and truncates both to whole days.
func resolveDates(date, weekStart, now time.Time) (time.Time, time.Time) {
	if date.IsZero() {
		date = now
	}
	date = generic.Day(date)
	if weekStart.IsZero() {
		return date, generic.WeekStart(date)
	}
	return date, generic.Day(weekStart)
}

func sortChronological(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
