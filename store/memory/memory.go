// Package memory provides an in-memory implementation of every ledger store.
// It backs tests and the "memory" store kind; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu        sync.RWMutex
	advances  []advance.Entry
	escrow    []escrow.Entry
	settings  map[generic.EmployeeID]settings.AdvanceSettings
	targets   map[generic.EmployeeID]generic.Money
	employees map[generic.EmployeeID]generic.Employee

	// FailWrites makes every write fail, for exercising persistence errors.
	FailWrites bool
}

// ErrWriteFailed is returned by writes while FailWrites is set.
var ErrWriteFailed = errors.New("memory store: write failed")

func New() *Store {
	return &Store{
		settings:  make(map[generic.EmployeeID]settings.AdvanceSettings),
		targets:   make(map[generic.EmployeeID]generic.Money),
		employees: make(map[generic.EmployeeID]generic.Employee),
	}
}

// =============================================================================
// ADVANCE ENTRIES (advance.Store)
// =============================================================================

func (m *Store) LoadAdvanceEntries(_ context.Context) ([]advance.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]advance.Entry(nil), m.advances...), nil
}

func (m *Store) ApplyAdvanceChange(_ context.Context, c advance.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.advances = c.Apply(m.advances)
	return nil
}

// =============================================================================
// ESCROW ENTRIES (escrow.Store)
// =============================================================================

func (m *Store) LoadEscrowEntries(_ context.Context) ([]escrow.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]escrow.Entry(nil), m.escrow...), nil
}

func (m *Store) ApplyEscrowChange(_ context.Context, c escrow.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.escrow = c.Apply(m.escrow)
	return nil
}

// =============================================================================
// SETTINGS (settings.Repository)
// =============================================================================

func (m *Store) LoadSettings(_ context.Context) (settings.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := settings.Snapshot{
		Advance: make(map[generic.EmployeeID]settings.AdvanceSettings, len(m.settings)),
		Targets: make(map[generic.EmployeeID]generic.Money, len(m.targets)),
	}
	for k, v := range m.settings {
		snap.Advance[k] = v
	}
	for k, v := range m.targets {
		snap.Targets[k] = v
	}
	return snap, nil
}

func (m *Store) SaveAdvanceSettings(_ context.Context, employee generic.EmployeeID, s settings.AdvanceSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.settings[employee] = s
	return nil
}

func (m *Store) SaveEscrowTarget(_ context.Context, employee generic.EmployeeID, target generic.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.targets[employee] = target
	return nil
}

// =============================================================================
// EMPLOYEES (generic.EmployeeDirectory)
// =============================================================================

func (m *Store) SaveEmployee(_ context.Context, e generic.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.employees[e.ID] = e
	return nil
}

func (m *Store) LookupEmployee(_ context.Context, id generic.EmployeeID) (generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return generic.Employee{}, generic.ErrNotFound
	}
	return e, nil
}

func (m *Store) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]generic.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var (
	_ advance.Store             = (*Store)(nil)
	_ escrow.Store              = (*Store)(nil)
	_ settings.Repository       = (*Store)(nil)
	_ generic.EmployeeDirectory = (*Store)(nil)
)
