/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Dates travel as
  YYYY-MM-DD strings and money as two-decimal strings, independent of how
  the ledgers hold them internally.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Employee:
    EmployeeDTO, CreateEmployeeRequest

  Advances:
    AdvanceEntryDTO, AdvanceSummaryDTO, AdvancesResponse,
    CreateAdvanceRequest, RepaymentRequest, AdjustmentRequest,
    WeeklyRepaymentsRequest, ScheduledRepaymentDTO, InstallmentDTO,
    StatusChangeRequest, OverdueDTO

  Escrow:
    EscrowEntryDTO, EscrowSummaryDTO, EscrowResponse, MovementRequest,
    TargetDTO, NotesRequest, WeeklyEscrowDTO

VALIDATION:
  Validation is done by the ledgers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateEmployeeRequest is the request body for creating an employee.
type CreateEmployeeRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// ADVANCES
// =============================================================================

// AdvanceEntryDTO is one advance ledger entry. Outstanding is only set on
// ADVANCE entries.
type AdvanceEntryDTO struct {
	ID                    string         `json:"id"`
	AdvanceID             string         `json:"advance_id"`
	ParentAdvanceID       string         `json:"parent_advance_id,omitempty"`
	EmployeeID            string         `json:"employee_id"`
	EmployeeName          string         `json:"employee_name"`
	Date                  string         `json:"date"`
	WeekStart             string         `json:"week_start"`
	Type                  string         `json:"type"`
	Amount                generic.Money  `json:"amount"`
	WeeklyRepaymentAmount *generic.Money `json:"weekly_repayment_amount,omitempty"`
	RepaymentWeeks        int            `json:"repayment_weeks,omitempty"`
	Outstanding           *generic.Money `json:"outstanding,omitempty"`
	Status                string         `json:"status"`
	PaymentMethod         string         `json:"payment_method,omitempty"`
	ReferenceNumber       string         `json:"reference_number,omitempty"`
	Notes                 string         `json:"notes,omitempty"`
	LastRepaymentDate     string         `json:"last_repayment_date,omitempty"`
	ApprovedBy            string         `json:"approved_by,omitempty"`
	ProcessedBy           string         `json:"processed_by,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// AdvanceSummaryDTO aggregates an employee's advance position.
type AdvanceSummaryDTO struct {
	TotalAdvanced     generic.Money `json:"total_advanced"`
	TotalRepaid       generic.Money `json:"total_repaid"`
	CurrentBalance    generic.Money `json:"current_balance"`
	ActiveAdvances    int           `json:"active_advances"`
	ScheduledThisWeek generic.Money `json:"scheduled_this_week"`
	Overdue           int           `json:"overdue"`
}

// AdvancesResponse is returned by GET /api/employees/{id}/advances.
type AdvancesResponse struct {
	Employee EmployeeDTO       `json:"employee"`
	Entries  []AdvanceEntryDTO `json:"entries"`
	Summary  AdvanceSummaryDTO `json:"summary"`
}

// CreateAdvanceRequest opens an advance. Date and WeekStart default to today
// and its payroll week.
type CreateAdvanceRequest struct {
	Amount     generic.Money `json:"amount"`
	Weeks      int           `json:"repayment_weeks"`
	Date       string        `json:"date,omitempty"`
	WeekStart  string        `json:"week_start,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	ApprovedBy string        `json:"approved_by,omitempty"`
}

// RepaymentRequest records money recovered against one advance.
type RepaymentRequest struct {
	AdvanceID       string        `json:"advance_id"`
	Amount          generic.Money `json:"amount"`
	PaymentMethod   string        `json:"payment_method,omitempty"`
	Date            string        `json:"date,omitempty"`
	WeekStart       string        `json:"week_start,omitempty"`
	ReferenceNumber string        `json:"reference_number,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	ProcessedBy     string        `json:"processed_by,omitempty"`
}

// AdjustmentRequest records a non-cash credit against one advance.
type AdjustmentRequest struct {
	AdvanceID   string        `json:"advance_id"`
	Amount      generic.Money `json:"amount"`
	Date        string        `json:"date,omitempty"`
	WeekStart   string        `json:"week_start,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	ProcessedBy string        `json:"processed_by,omitempty"`
}

// WeeklyRepaymentsRequest runs the payroll batch for one week.
type WeeklyRepaymentsRequest struct {
	WeekStart   string `json:"week_start"`
	ProcessedBy string `json:"processed_by,omitempty"`
}

// ScheduledRepaymentDTO is the amount due for an employee in a week.
type ScheduledRepaymentDTO struct {
	EmployeeID string        `json:"employee_id"`
	WeekStart  string        `json:"week_start"`
	Amount     generic.Money `json:"amount"`
}

// InstallmentDTO is one projected weekly payment.
type InstallmentDTO struct {
	WeekStart      string        `json:"week_start"`
	Amount         generic.Money `json:"amount"`
	RemainingAfter generic.Money `json:"remaining_after"`
}

// StatusChangeRequest carries who made an administrative status change.
type StatusChangeRequest struct {
	By string `json:"by,omitempty"`
}

// OverdueDTO is one overdue advance.
type OverdueDTO struct {
	Advance     AdvanceEntryDTO `json:"advance"`
	Outstanding generic.Money   `json:"outstanding"`
	DueDate     string          `json:"due_date"`
	DaysOverdue int             `json:"days_overdue"`
}

// =============================================================================
// ESCROW
// =============================================================================

// EscrowEntryDTO is one escrow movement with the running balance after it.
type EscrowEntryDTO struct {
	ID           string        `json:"id"`
	Date         string        `json:"date"`
	WeekStart    string        `json:"week_start"`
	EmployeeID   string        `json:"employee_id"`
	EmployeeName string        `json:"employee_name"`
	Type         string        `json:"type"`
	Amount       generic.Money `json:"amount"`
	Notes        string        `json:"notes,omitempty"`
	Balance      generic.Money `json:"balance"`
	CreatedAt    time.Time     `json:"created_at"`
}

// EscrowSummaryDTO is an employee's funding position.
type EscrowSummaryDTO struct {
	Balance           generic.Money `json:"balance"`
	TotalDeposits     generic.Money `json:"total_deposits"`
	TotalWithdrawals  generic.Money `json:"total_withdrawals"`
	Target            generic.Money `json:"target"`
	RemainingToTarget generic.Money `json:"remaining_to_target"`
	FullyFunded       bool          `json:"fully_funded"`
	ReachedTarget     bool          `json:"reached_target"`
}

// EscrowResponse is returned by GET /api/employees/{id}/escrow.
type EscrowResponse struct {
	Employee EmployeeDTO      `json:"employee"`
	Entries  []EscrowEntryDTO `json:"entries"`
	Summary  EscrowSummaryDTO `json:"summary"`
}

// MovementRequest is a deposit or withdrawal.
type MovementRequest struct {
	Amount    generic.Money `json:"amount"`
	Date      string        `json:"date,omitempty"`
	WeekStart string        `json:"week_start,omitempty"`
	Notes     string        `json:"notes,omitempty"`
}

type TargetDTO struct {
	Target generic.Money `json:"target"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

// WeeklyEscrowDTO sums movements across all employees for one week.
type WeeklyEscrowDTO struct {
	WeekStart   string        `json:"week_start"`
	Deposits    generic.Money `json:"deposits"`
	Withdrawals generic.Money `json:"withdrawals"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	return EmployeeDTO{ID: string(e.ID), Name: e.Name}
}

func toAdvanceEntryDTO(e advance.Entry, outstanding *generic.Money) AdvanceEntryDTO {
	dto := AdvanceEntryDTO{
		ID:              string(e.ID),
		AdvanceID:       string(e.AdvanceID),
		ParentAdvanceID: string(e.ParentAdvanceID),
		EmployeeID:      string(e.EmployeeID),
		EmployeeName:    e.EmployeeName,
		Date:            generic.FormatDate(e.Date),
		WeekStart:       generic.FormatDate(e.WeekStart),
		Type:            string(e.Type),
		Amount:          e.Amount,
		RepaymentWeeks:  e.RepaymentWeeks,
		Outstanding:     outstanding,
		Status:          string(e.Status),
		PaymentMethod:   string(e.PaymentMethod),
		ReferenceNumber: e.ReferenceNumber,
		Notes:           e.Notes,
		ApprovedBy:      e.ApprovedBy,
		ProcessedBy:     e.ProcessedBy,
		CreatedAt:       e.CreatedAt,
	}
	if e.IsAdvance() {
		weekly := e.WeeklyRepaymentAmount
		dto.WeeklyRepaymentAmount = &weekly
	}
	if !e.LastRepaymentDate.IsZero() {
		dto.LastRepaymentDate = generic.FormatDate(e.LastRepaymentDate)
	}
	return dto
}

func toAdvanceSummaryDTO(s advance.Summary) AdvanceSummaryDTO {
	return AdvanceSummaryDTO{
		TotalAdvanced:     s.TotalAdvanced,
		TotalRepaid:       s.TotalRepaid,
		CurrentBalance:    s.CurrentBalance,
		ActiveAdvances:    s.ActiveAdvances,
		ScheduledThisWeek: s.ScheduledThisWeek,
		Overdue:           s.Overdue,
	}
}

func toOverdueDTO(o advance.Overdue) OverdueDTO {
	outstanding := o.Outstanding
	return OverdueDTO{
		Advance:     toAdvanceEntryDTO(o.Advance, &outstanding),
		Outstanding: o.Outstanding,
		DueDate:     generic.FormatDate(o.DueDate),
		DaysOverdue: o.DaysOverdue,
	}
}

func toEscrowEntryDTO(e escrow.Entry) EscrowEntryDTO {
	return EscrowEntryDTO{
		ID:           string(e.ID),
		Date:         generic.FormatDate(e.Date),
		WeekStart:    generic.FormatDate(e.WeekStart),
		EmployeeID:   string(e.EmployeeID),
		EmployeeName: e.EmployeeName,
		Type:         string(e.Type),
		Amount:       e.Amount,
		Notes:        e.Notes,
		Balance:      e.Balance,
		CreatedAt:    e.CreatedAt,
	}
}

func toEscrowSummaryDTO(s escrow.Summary) EscrowSummaryDTO {
	return EscrowSummaryDTO{
		Balance:           s.Balance,
		TotalDeposits:     s.TotalDeposits,
		TotalWithdrawals:  s.TotalWithdrawals,
		Target:            s.Target,
		RemainingToTarget: s.RemainingToTarget,
		FullyFunded:       s.FullyFunded,
		ReachedTarget:     s.ReachedTarget,
	}
}
