/*
Package snapshot persists the ledgers as JSON snapshot files.

PURPOSE:
  Each ledger is one file holding its full entry list; settings are a
  third file. Every mutation rewrites the affected file in full:

    advances.json   advance entries
    escrow.json     escrow entries
    settings.json   advance overrides and escrow targets
    employees.json  employee directory

DURABILITY:
  Files are written to a temp file in the same directory, fsynced, then
  renamed over the old snapshot, so a crash leaves either the old or the
  new file and never a torn one.

CORRUPTION:
  A file that cannot be decoded is renamed to <name>.corrupt-<unix> and
  the load returns an error; the ledger then starts empty and the next
  write produces a fresh snapshot.

SEE ALSO:
  - store/sqlite: Transactional alternative (default)
*/
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
)

const (
	AdvanceFile   = "advances.json"
	EscrowFile    = "escrow.json"
	SettingsFile  = "settings.json"
	EmployeesFile = "employees.json"

	formatVersion = 1
)

type envelope[T any] struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Data    T         `json:"data"`
}

type settingsFile struct {
	Advance map[generic.EmployeeID]settings.AdvanceSettings `json:"advance"`
	Targets map[generic.EmployeeID]generic.Money            `json:"escrow_targets"`
}

// Store keeps the last written state of each file in memory so a change
// can be applied and the full snapshot rewritten without re-reading disk.
type Store struct {
	dir string
	log *zap.Logger

	mu        sync.Mutex
	advances  []advance.Entry
	escrow    []escrow.Entry
	settings  settingsFile
	employees map[generic.EmployeeID]generic.Employee
}

// New creates dir if needed. Snapshots are read by the Load* calls.
func New(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &Store{
		dir: dir,
		log: log.Named("snapshot"),
		settings: settingsFile{
			Advance: make(map[generic.EmployeeID]settings.AdvanceSettings),
			Targets: make(map[generic.EmployeeID]generic.Money),
		},
	}, nil
}

// Dir is the directory holding the snapshot files.
func (s *Store) Dir() string { return s.dir }

// =============================================================================
// ADVANCE ENTRIES (advance.Store)
// =============================================================================

func (s *Store) LoadAdvanceEntries(_ context.Context) ([]advance.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []advance.Entry
	if err := s.read(AdvanceFile, &entries); err != nil {
		s.advances = nil
		return nil, err
	}
	s.advances = entries
	return append([]advance.Entry(nil), entries...), nil
}

func (s *Store) ApplyAdvanceChange(_ context.Context, c advance.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := c.Apply(s.advances)
	if err := s.write(AdvanceFile, next); err != nil {
		return err
	}
	s.advances = next
	return nil
}

// =============================================================================
// ESCROW ENTRIES (escrow.Store)
// =============================================================================

func (s *Store) LoadEscrowEntries(_ context.Context) ([]escrow.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []escrow.Entry
	if err := s.read(EscrowFile, &entries); err != nil {
		s.escrow = nil
		return nil, err
	}
	s.escrow = entries
	return append([]escrow.Entry(nil), entries...), nil
}

func (s *Store) ApplyEscrowChange(_ context.Context, c escrow.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := c.Apply(s.escrow)
	if err := s.write(EscrowFile, next); err != nil {
		return err
	}
	s.escrow = next
	return nil
}

// =============================================================================
// SETTINGS (settings.Repository)
// =============================================================================

func (s *Store) LoadSettings(_ context.Context) (settings.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f settingsFile
	if err := s.read(SettingsFile, &f); err != nil {
		return settings.Snapshot{}, err
	}
	if f.Advance == nil {
		f.Advance = make(map[generic.EmployeeID]settings.AdvanceSettings)
	}
	if f.Targets == nil {
		f.Targets = make(map[generic.EmployeeID]generic.Money)
	}
	s.settings = f
	return settings.Snapshot{Advance: copyMap(f.Advance), Targets: copyMap(f.Targets)}, nil
}

func (s *Store) SaveAdvanceSettings(_ context.Context, employee generic.EmployeeID, a settings.AdvanceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := settingsFile{Advance: copyMap(s.settings.Advance), Targets: s.settings.Targets}
	next.Advance[employee] = a
	if err := s.write(SettingsFile, next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

func (s *Store) SaveEscrowTarget(_ context.Context, employee generic.EmployeeID, target generic.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := settingsFile{Advance: s.settings.Advance, Targets: copyMap(s.settings.Targets)}
	next.Targets[employee] = target
	if err := s.write(SettingsFile, next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

// =============================================================================
// EMPLOYEES (generic.EmployeeDirectory)
// =============================================================================

// employeesLocked reads employees.json on first use.
func (s *Store) employeesLocked() (map[generic.EmployeeID]generic.Employee, error) {
	if s.employees != nil {
		return s.employees, nil
	}
	var list []generic.Employee
	if err := s.read(EmployeesFile, &list); err != nil {
		return nil, err
	}
	s.employees = make(map[generic.EmployeeID]generic.Employee, len(list))
	for _, e := range list {
		s.employees[e.ID] = e
	}
	return s.employees, nil
}

func (s *Store) SaveEmployee(_ context.Context, emp generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.employeesLocked()
	if err != nil {
		return err
	}
	next := copyMap(current)
	next[emp.ID] = emp
	if err := s.write(EmployeesFile, sortedEmployees(next)); err != nil {
		return err
	}
	s.employees = next
	return nil
}

func (s *Store) LookupEmployee(_ context.Context, id generic.EmployeeID) (generic.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.employeesLocked()
	if err != nil {
		return generic.Employee{}, err
	}
	emp, ok := current[id]
	if !ok {
		return generic.Employee{}, fmt.Errorf("%w: employee %s", generic.ErrNotFound, id)
	}
	return emp, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.employeesLocked()
	if err != nil {
		return nil, err
	}
	return sortedEmployees(current), nil
}

func sortedEmployees(m map[generic.EmployeeID]generic.Employee) []generic.Employee {
	out := make([]generic.Employee, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// FILE I/O
// =============================================================================

// read decodes name into dst. A missing file is an empty snapshot.
func (s *Store) read(name string, dst any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	env := envelope[json.RawMessage]{}
	if err := json.Unmarshal(data, &env); err == nil && env.Version == formatVersion {
		err = json.Unmarshal(env.Data, dst)
		if err == nil {
			return nil
		}
	}
	return s.quarantine(path, fmt.Errorf("failed to decode %s", name))
}

// quarantine moves an unreadable snapshot aside so it is not overwritten.
func (s *Store) quarantine(path string, cause error) error {
	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, aside); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to move corrupt snapshot aside: %w", err))
	}
	s.log.Warn("corrupt snapshot moved aside", zap.String("path", path), zap.String("moved_to", aside))
	return fmt.Errorf("%w (moved to %s)", cause, filepath.Base(aside))
}

// write atomically replaces name with data.
func (s *Store) write(name string, data any) error {
	payload, err := json.MarshalIndent(envelope[any]{
		Version: formatVersion,
		SavedAt: time.Now().UTC(),
		Data:    data,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	_ advance.Store             = (*Store)(nil)
	_ escrow.Store              = (*Store)(nil)
	_ settings.Repository       = (*Store)(nil)
	_ generic.EmployeeDirectory = (*Store)(nil)
)
