/*
Package settings is the per-employee policy store.

PURPOSE:
  Holds two mappings keyed by employee:
    - AdvanceSettings: how much may be advanced and how fast it is recovered
    - Escrow target:   the reserve an employee's escrow is funded toward

  Both fall back to documented defaults when an employee has no record.
  Records are created on first write and are only ever overwritten, never
  deleted.

VALIDATION:
  Only shape checks happen here (positive amounts, positive whole weeks).
  Applying the settings to an advance is the advance ledger's job, and an
  update never re-validates advances that already exist.

SEE ALSO:
  - advance/ledger.go: Applies AdvanceSettings at creation time
  - escrow/ledger.go: Reads the escrow target
*/
package settings

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/generic"
)

// =============================================================================
// DEFAULTS
// =============================================================================

var (
	DefaultMaxAdvanceAmount     = generic.MustParseMoney("3000.00")
	DefaultWeeklyRepaymentLimit = generic.MustParseMoney("500.00")
	DefaultEscrowTarget         = generic.MustParseMoney("3000.00")
)

const (
	DefaultMaxRepaymentWeeks = 52

	// MaxRepaymentWeeksCeiling bounds any per-employee override.
	MaxRepaymentWeeksCeiling = 52
)

// =============================================================================
// ADVANCE SETTINGS
// =============================================================================

// AdvanceSettings is the advance policy for one employee.
type AdvanceSettings struct {
	MaxAdvanceAmount      generic.Money `json:"max_advance_amount"`
	WeeklyRepaymentLimit  generic.Money `json:"weekly_repayment_limit"`
	MaxRepaymentWeeks     int           `json:"max_repayment_weeks"`
	AllowMultipleAdvances bool          `json:"allow_multiple_advances"`
}

// Defaults returns the policy applied to employees without an override.
func Defaults() AdvanceSettings {
	return AdvanceSettings{
		MaxAdvanceAmount:      DefaultMaxAdvanceAmount,
		WeeklyRepaymentLimit:  DefaultWeeklyRepaymentLimit,
		MaxRepaymentWeeks:     DefaultMaxRepaymentWeeks,
		AllowMultipleAdvances: false,
	}
}

// Validate checks shape only: positive amounts and a positive whole number
// of weeks within the ceiling.
func (s AdvanceSettings) Validate() error {
	if !s.MaxAdvanceAmount.IsPositive() {
		return fmt.Errorf("%w: max advance amount must be positive", generic.ErrInvalidAmount)
	}
	if !s.WeeklyRepaymentLimit.IsPositive() {
		return fmt.Errorf("%w: weekly repayment limit must be positive", generic.ErrInvalidAmount)
	}
	if s.MaxRepaymentWeeks < 1 || s.MaxRepaymentWeeks > MaxRepaymentWeeksCeiling {
		return fmt.Errorf("%w: max repayment weeks must be between 1 and %d",
			generic.ErrInvalidWeeks, MaxRepaymentWeeksCeiling)
	}
	return nil
}

// =============================================================================
// REPOSITORY - Persistence for the settings mapping
// =============================================================================

// Snapshot is the full persisted settings mapping.
type Snapshot struct {
	Advance map[generic.EmployeeID]AdvanceSettings
	Targets map[generic.EmployeeID]generic.Money
}

// Repository persists the settings mapping. Implementations live in store/*.
type Repository interface {
	LoadSettings(ctx context.Context) (Snapshot, error)
	SaveAdvanceSettings(ctx context.Context, employee generic.EmployeeID, s AdvanceSettings) error
	SaveEscrowTarget(ctx context.Context, employee generic.EmployeeID, target generic.Money) error
}

// =============================================================================
// STORE - Cached, defaulting view over a Repository
// =============================================================================

// Store serves settings from memory and writes through to the repository.
type Store struct {
	repo Repository
	log  *zap.Logger

	mu      sync.RWMutex
	advance map[generic.EmployeeID]AdvanceSettings
	targets map[generic.EmployeeID]generic.Money
}

func NewStore(repo Repository, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		repo:    repo,
		log:     log.Named("settings"),
		advance: make(map[generic.EmployeeID]AdvanceSettings),
		targets: make(map[generic.EmployeeID]generic.Money),
	}
}

// Load reads the persisted mapping. A failed load is logged and the store
// starts from defaults; it never fails startup.
func (s *Store) Load(ctx context.Context) {
	snap, err := s.repo.LoadSettings(ctx)
	if err != nil {
		s.log.Warn("failed to load settings, starting from defaults", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range snap.Advance {
		s.advance[id] = a
	}
	for id, t := range snap.Targets {
		s.targets[id] = t
	}
	s.log.Info("settings loaded",
		zap.Int("advance_overrides", len(snap.Advance)),
		zap.Int("escrow_targets", len(snap.Targets)))
}

// AdvanceSettings returns the employee's policy, or Defaults() on miss.
func (s *Store) AdvanceSettings(employee generic.EmployeeID) AdvanceSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.advance[employee]; ok {
		return a
	}
	return Defaults()
}

// HasAdvanceSettings reports whether the employee has an explicit override.
func (s *Store) HasAdvanceSettings(employee generic.EmployeeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.advance[employee]
	return ok
}

// UpdateAdvanceSettings overwrites the employee's policy.
func (s *Store) UpdateAdvanceSettings(ctx context.Context, employee generic.EmployeeID, a AdvanceSettings) error {
	if employee == "" {
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	}
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.SaveAdvanceSettings(ctx, employee, a); err != nil {
		s.log.Error("failed to persist advance settings", zap.String("employee_id", string(employee)), zap.Error(err))
		return &generic.PersistenceError{Op: "save advance settings", Err: err}
	}
	s.advance[employee] = a
	return nil
}

// EscrowTarget returns the employee's escrow target, or DefaultEscrowTarget.
func (s *Store) EscrowTarget(employee generic.EmployeeID) generic.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.targets[employee]; ok {
		return t
	}
	return DefaultEscrowTarget
}

// SetEscrowTarget overwrites the employee's escrow target.
func (s *Store) SetEscrowTarget(ctx context.Context, employee generic.EmployeeID, target generic.Money) error {
	if employee == "" {
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	}
	if !target.IsPositive() {
		return fmt.Errorf("%w: escrow target must be positive", generic.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.SaveEscrowTarget(ctx, employee, target); err != nil {
		s.log.Error("failed to persist escrow target", zap.String("employee_id", string(employee)), zap.Error(err))
		return &generic.PersistenceError{Op: "save escrow target", Err: err}
	}
	s.targets[employee] = target
	return nil
}
