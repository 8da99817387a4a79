/*
Package sqlite provides the SQLite-backed implementation of the ledger stores.

PURPOSE:
  One Store implements every persistence interface the ledgers need, so
  a single database file holds the whole system:

    advance.Store:             advance_entries
    escrow.Store:              escrow_entries
    settings.Repository:       advance_settings, escrow_targets
    generic.EmployeeDirectory: employees

ATOMICITY:
  Every Apply*Change call runs in one SQL transaction. Either the whole
  change (appends, updates, deletes) lands or none of it does, which is
  what lets the ledgers apply a change in memory only after it persisted.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATIONS:
  Schema lives in migrations/*.sql, embedded in the binary and applied by
  golang-migrate on New(). `ledgerd migrate` runs them without starting
  the server.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := advance.NewLedger(store, settings.NewStore(store, log))

SEE ALSO:
  - store/memory: In-memory implementation for tests
  - store/snapshot: JSON snapshot files
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ADVANCE ENTRIES (advance.Store)
// =============================================================================

const advanceColumns = `id, advance_id, parent_advance_id, employee_id, employee_name, date, week_start,
	type, amount, weekly_repayment_amount, repayment_weeks, status, payment_method,
	reference_number, notes, last_repayment_date, approved_by, processed_by, created_at`

// LoadAdvanceEntries returns every advance entry in chronological order.
func (s *Store) LoadAdvanceEntries(ctx context.Context) ([]advance.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+advanceColumns+` FROM advance_entries ORDER BY date ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query advance entries: %w", err)
	}
	defer rows.Close()

	var entries []advance.Entry
	for rows.Next() {
		e, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ApplyAdvanceChange applies deletes, updates and appends in one transaction.
func (s *Store) ApplyAdvanceChange(ctx context.Context, c advance.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range c.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM advance_entries WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete advance entry %s: %w", id, err)
		}
	}
	for _, e := range c.Update {
		if err := updateAdvance(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, e := range c.Append {
		if err := insertAdvance(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertAdvance(ctx context.Context, db execer, e advance.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO advance_entries (`+advanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AdvanceID, e.ParentAdvanceID, e.EmployeeID, e.EmployeeName,
		formatDate(e.Date), formatDate(e.WeekStart),
		e.Type, e.Amount.Value.String(), e.WeeklyRepaymentAmount.Value.String(), e.RepaymentWeeks,
		e.Status, e.PaymentMethod, e.ReferenceNumber, e.Notes,
		nullDate(e.LastRepaymentDate), e.ApprovedBy, e.ProcessedBy,
		formatTimestamp(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert advance entry %s: %w", e.ID, err)
	}
	return nil
}

// updateAdvance rewrites the mutable columns of an entry.
func updateAdvance(ctx context.Context, db execer, e advance.Entry) error {
	res, err := db.ExecContext(ctx, `
		UPDATE advance_entries
		SET status = ?, last_repayment_date = ?, notes = ?
		WHERE id = ?`,
		e.Status, nullDate(e.LastRepaymentDate), e.Notes, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update advance entry %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update advance entry %s: %w", e.ID, generic.ErrNotFound)
	}
	return nil
}

func scanAdvance(rows *sql.Rows) (advance.Entry, error) {
	var (
		e                   advance.Entry
		date, week, created string
		amount, weekly      string
		lastRepayment       sql.NullString
	)
	err := rows.Scan(
		&e.ID, &e.AdvanceID, &e.ParentAdvanceID, &e.EmployeeID, &e.EmployeeName,
		&date, &week, &e.Type, &amount, &weekly, &e.RepaymentWeeks,
		&e.Status, &e.PaymentMethod, &e.ReferenceNumber, &e.Notes,
		&lastRepayment, &e.ApprovedBy, &e.ProcessedBy, &created,
	)
	if err != nil {
		return advance.Entry{}, fmt.Errorf("failed to scan advance entry: %w", err)
	}

	if e.Date, err = generic.ParseDate(date); err != nil {
		return advance.Entry{}, fmt.Errorf("advance entry %s: bad date %q: %w", e.ID, date, err)
	}
	if e.WeekStart, err = generic.ParseDate(week); err != nil {
		return advance.Entry{}, fmt.Errorf("advance entry %s: bad week start %q: %w", e.ID, week, err)
	}
	if e.Amount, err = generic.ParseMoney(amount); err != nil {
		return advance.Entry{}, fmt.Errorf("advance entry %s: %w", e.ID, err)
	}
	if e.WeeklyRepaymentAmount, err = generic.ParseMoney(weekly); err != nil {
		return advance.Entry{}, fmt.Errorf("advance entry %s: %w", e.ID, err)
	}
	if lastRepayment.Valid && lastRepayment.String != "" {
		if e.LastRepaymentDate, err = generic.ParseDate(lastRepayment.String); err != nil {
			return advance.Entry{}, fmt.Errorf("advance entry %s: bad last repayment date: %w", e.ID, err)
		}
	}
	e.CreatedAt = parseTimestamp(created)
	return e, nil
}

// =============================================================================
// ESCROW ENTRIES (escrow.Store)
// =============================================================================

const escrowColumns = `id, date, week_start, employee_id, employee_name, type, amount, notes, created_at`

// LoadEscrowEntries returns every escrow entry in chronological order.
func (s *Store) LoadEscrowEntries(ctx context.Context) ([]escrow.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_entries ORDER BY date ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query escrow entries: %w", err)
	}
	defer rows.Close()

	var entries []escrow.Entry
	for rows.Next() {
		var (
			e                           escrow.Entry
			date, week, amount, created string
		)
		if err := rows.Scan(&e.ID, &date, &week, &e.EmployeeID, &e.EmployeeName,
			&e.Type, &amount, &e.Notes, &created); err != nil {
			return nil, fmt.Errorf("failed to scan escrow entry: %w", err)
		}
		if e.Date, err = generic.ParseDate(date); err != nil {
			return nil, fmt.Errorf("escrow entry %s: bad date %q: %w", e.ID, date, err)
		}
		if e.WeekStart, err = generic.ParseDate(week); err != nil {
			return nil, fmt.Errorf("escrow entry %s: bad week start %q: %w", e.ID, week, err)
		}
		if e.Amount, err = generic.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("escrow entry %s: %w", e.ID, err)
		}
		e.CreatedAt = parseTimestamp(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ApplyEscrowChange applies clear, deletes, note updates and appends in one
// transaction.
func (s *Store) ApplyEscrowChange(ctx context.Context, c escrow.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if c.Clear {
		if _, err := tx.ExecContext(ctx, `DELETE FROM escrow_entries`); err != nil {
			return fmt.Errorf("failed to clear escrow entries: %w", err)
		}
	}
	for _, id := range c.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM escrow_entries WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete escrow entry %s: %w", id, err)
		}
	}
	for _, e := range c.Update {
		res, err := tx.ExecContext(ctx, `UPDATE escrow_entries SET notes = ? WHERE id = ?`, e.Notes, e.ID)
		if err != nil {
			return fmt.Errorf("failed to update escrow entry %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("failed to update escrow entry %s: %w", e.ID, generic.ErrNotFound)
		}
	}
	for _, e := range c.Append {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO escrow_entries (`+escrowColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, formatDate(e.Date), formatDate(e.WeekStart), e.EmployeeID, e.EmployeeName,
			e.Type, e.Amount.Value.String(), e.Notes, formatTimestamp(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert escrow entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// SETTINGS (settings.Repository)
// =============================================================================

// LoadSettings reads every advance override and escrow target.
func (s *Store) LoadSettings(ctx context.Context) (settings.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := settings.Snapshot{
		Advance: make(map[generic.EmployeeID]settings.AdvanceSettings),
		Targets: make(map[generic.EmployeeID]generic.Money),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, max_advance_amount, weekly_repayment_limit,
		       max_repayment_weeks, allow_multiple_advances
		FROM advance_settings`)
	if err != nil {
		return settings.Snapshot{}, fmt.Errorf("failed to query advance settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id             generic.EmployeeID
			maxAmt, weekly string
			a              settings.AdvanceSettings
		)
		if err := rows.Scan(&id, &maxAmt, &weekly, &a.MaxRepaymentWeeks, &a.AllowMultipleAdvances); err != nil {
			return settings.Snapshot{}, fmt.Errorf("failed to scan advance settings: %w", err)
		}
		if a.MaxAdvanceAmount, err = generic.ParseMoney(maxAmt); err != nil {
			return settings.Snapshot{}, fmt.Errorf("advance settings %s: %w", id, err)
		}
		if a.WeeklyRepaymentLimit, err = generic.ParseMoney(weekly); err != nil {
			return settings.Snapshot{}, fmt.Errorf("advance settings %s: %w", id, err)
		}
		snap.Advance[id] = a
	}
	if err := rows.Err(); err != nil {
		return settings.Snapshot{}, err
	}

	targets, err := s.db.QueryContext(ctx, `SELECT employee_id, target FROM escrow_targets`)
	if err != nil {
		return settings.Snapshot{}, fmt.Errorf("failed to query escrow targets: %w", err)
	}
	defer targets.Close()
	for targets.Next() {
		var id generic.EmployeeID
		var target string
		if err := targets.Scan(&id, &target); err != nil {
			return settings.Snapshot{}, fmt.Errorf("failed to scan escrow target: %w", err)
		}
		m, err := generic.ParseMoney(target)
		if err != nil {
			return settings.Snapshot{}, fmt.Errorf("escrow target %s: %w", id, err)
		}
		snap.Targets[id] = m
	}
	return snap, targets.Err()
}

// SaveAdvanceSettings upserts the employee's advance policy.
func (s *Store) SaveAdvanceSettings(ctx context.Context, employee generic.EmployeeID, a settings.AdvanceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO advance_settings
		(employee_id, max_advance_amount, weekly_repayment_limit, max_repayment_weeks, allow_multiple_advances, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			max_advance_amount = excluded.max_advance_amount,
			weekly_repayment_limit = excluded.weekly_repayment_limit,
			max_repayment_weeks = excluded.max_repayment_weeks,
			allow_multiple_advances = excluded.allow_multiple_advances,
			updated_at = excluded.updated_at`,
		employee, a.MaxAdvanceAmount.Value.String(), a.WeeklyRepaymentLimit.Value.String(),
		a.MaxRepaymentWeeks, a.AllowMultipleAdvances, formatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save advance settings: %w", err)
	}
	return nil
}

// SaveEscrowTarget upserts the employee's escrow target.
func (s *Store) SaveEscrowTarget(ctx context.Context, employee generic.EmployeeID, target generic.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_targets (employee_id, target, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			target = excluded.target,
			updated_at = excluded.updated_at`,
		employee, target.Value.String(), formatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save escrow target: %w", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEES (generic.EmployeeDirectory)
// =============================================================================

// SaveEmployee creates or renames an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		emp.ID, emp.Name, formatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// LookupEmployee returns generic.ErrNotFound for unknown ids.
func (s *Store) LookupEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emp := generic.Employee{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM employees WHERE id = ?`, id).Scan(&emp.Name)
	if err == sql.ErrNoRows {
		return generic.Employee{}, fmt.Errorf("%w: employee %s", generic.ErrNotFound, id)
	}
	if err != nil {
		return generic.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return emp, nil
}

// ListEmployees returns every employee ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM employees ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []generic.Employee
	for rows.Next() {
		var emp generic.Employee
		if err := rows.Scan(&emp.ID, &emp.Name); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(t time.Time) string {
	return t.UTC().Format(generic.DateLayout)
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(t), Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

var (
	_ advance.Store             = (*Store)(nil)
	_ escrow.Store              = (*Store)(nil)
	_ settings.Repository       = (*Store)(nil)
	_ generic.EmployeeDirectory = (*Store)(nil)
)
