/*
handlers.go - HTTP API handlers for the advance and escrow ledgers

PURPOSE:
  Exposes both ledgers via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every rule to the ledgers.

ENDPOINTS:
  Employees:
    GET    /api/employees                          List all employees
    POST   /api/employees                          Create or rename employee
    GET    /api/employees/{id}                     Get employee

  Advances (per employee):
    GET    /api/employees/{id}/advances            Entries + aggregates
    POST   /api/employees/{id}/advances            Open an advance
    POST   /api/employees/{id}/repayments          Record a repayment
    POST   /api/employees/{id}/adjustments         Record an adjustment
    POST   /api/employees/{id}/weekly-repayments   Run the payroll batch
    GET    /api/employees/{id}/scheduled?week=     Amount due in a week
    GET    /api/employees/{id}/settings            Advance policy
    PUT    /api/employees/{id}/settings            Replace advance policy

  Escrow (per employee):
    GET    /api/employees/{id}/escrow              Entries + funding position
    POST   /api/employees/{id}/escrow/deposits     Deposit
    POST   /api/employees/{id}/escrow/withdrawals  Withdraw
    GET    /api/employees/{id}/escrow/target       Target amount
    PUT    /api/employees/{id}/escrow/target       Replace target amount

  Advances (by id):
    GET    /api/advances/{id}                      Entry (+ outstanding)
    GET    /api/advances/{id}/schedule             Projected installments
    POST   /api/advances/{id}/cancel|forgive|default
    DELETE /api/advances/entries/{id}              Delete an entry

  Escrow (by id / global):
    DELETE /api/escrow/entries/{id}                Delete an entry
    PATCH  /api/escrow/entries/{id}                Update notes
    GET    /api/escrow/weekly?week=                Weekly totals

  Reports:
    GET    /api/overdue                            All overdue advances

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with:
  - 400: Malformed body, bad dates, invalid amounts or weeks
  - 404: Unknown employee or entry
  - 409: Second ACTIVE advance, closed advance, forbidden delete
  - 422: Policy limits, overpayment, insufficient escrow balance
  - 500: Persistence and internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/settings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Directory is the employee registry behind the employee routes.
type Directory interface {
	generic.EmployeeDirectory
	SaveEmployee(ctx context.Context, emp generic.Employee) error
	ListEmployees(ctx context.Context) ([]generic.Employee, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Advances  *advance.Ledger
	Escrow    *escrow.Ledger
	Employees Directory
	Log       *zap.Logger
	Clock     generic.Clock
}

// NewHandler creates a handler over both ledgers.
func NewHandler(advances *advance.Ledger, esc *escrow.Ledger, employees Directory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Advances:  advances,
		Escrow:    esc,
		Employees: employees,
		Log:       log.Named("api"),
		Clock:     generic.SystemClock,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Employees.ListEmployees(r.Context())
	if err != nil {
		h.writeLedgerError(w, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee registers an employee. Posting an existing id renames it;
// entries already recorded keep the name they were created with.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		h.writeLedgerError(w, "Invalid employee", fmt.Errorf("%w: id and name are required", generic.ErrInvalidInput))
		return
	}

	emp := generic.Employee{ID: generic.EmployeeID(req.ID), Name: req.Name}
	if err := h.Employees.SaveEmployee(r.Context(), emp); err != nil {
		h.writeLedgerError(w, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// GetAdvances returns the employee's advance entries, newest first, with
// the outstanding balance of each advance and the employee's aggregates.
func (h *Handler) GetAdvances(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}

	entries := h.Advances.EntriesForEmployee(emp.ID)
	dtos := make([]AdvanceEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = h.advanceDTO(e)
	}
	writeJSON(w, http.StatusOK, AdvancesResponse{
		Employee: toEmployeeDTO(emp),
		Entries:  dtos,
		Summary:  toAdvanceSummaryDTO(h.Advances.Summary(emp.ID, h.Clock())),
	})
}

// CreateAdvance opens an advance for the employee.
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req CreateAdvanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, weekStart, err := parseDates(req.Date, req.WeekStart)
	if err != nil {
		h.writeLedgerError(w, "Invalid date", err)
		return
	}

	entry, err := h.Advances.CreateAdvance(r.Context(), advance.CreateAdvanceInput{
		Employee:   emp,
		Date:       date,
		WeekStart:  weekStart,
		Amount:     req.Amount,
		Weeks:      req.Weeks,
		Notes:      req.Notes,
		ApprovedBy: req.ApprovedBy,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to create advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.advanceDTO(entry))
}

// RecordRepayment records money recovered against one of the employee's advances.
func (h *Handler) RecordRepayment(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req RepaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, weekStart, err := parseDates(req.Date, req.WeekStart)
	if err != nil {
		h.writeLedgerError(w, "Invalid date", err)
		return
	}

	entry, err := h.Advances.RecordRepayment(r.Context(), advance.RepaymentInput{
		EmployeeID:      emp.ID,
		AdvanceID:       generic.EntryID(req.AdvanceID),
		Date:            date,
		WeekStart:       weekStart,
		Amount:          req.Amount,
		Method:          advance.PaymentMethod(req.PaymentMethod),
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		ProcessedBy:     req.ProcessedBy,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record repayment", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.advanceDTO(entry))
}

// RecordAdjustment records a non-cash credit against one of the employee's advances.
func (h *Handler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, weekStart, err := parseDates(req.Date, req.WeekStart)
	if err != nil {
		h.writeLedgerError(w, "Invalid date", err)
		return
	}

	entry, err := h.Advances.RecordAdjustment(r.Context(), advance.AdjustmentInput{
		EmployeeID:  emp.ID,
		AdvanceID:   generic.EntryID(req.AdvanceID),
		Date:        date,
		WeekStart:   weekStart,
		Amount:      req.Amount,
		Notes:       req.Notes,
		ProcessedBy: req.ProcessedBy,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.advanceDTO(entry))
}

// ProcessWeeklyRepayments runs the payroll deduction batch for one week.
// Running it twice for the same week records nothing the second time.
func (h *Handler) ProcessWeeklyRepayments(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req WeeklyRepaymentsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WeekStart == "" {
		h.writeLedgerError(w, "Invalid week", fmt.Errorf("%w: week_start is required", generic.ErrInvalidInput))
		return
	}
	week, err := parseDate(req.WeekStart)
	if err != nil {
		h.writeLedgerError(w, "Invalid week", err)
		return
	}

	recorded, err := h.Advances.ProcessWeeklyRepayments(r.Context(), emp.ID, week, req.ProcessedBy)
	if err != nil {
		h.writeLedgerError(w, "Failed to process weekly repayments", err)
		return
	}
	dtos := make([]AdvanceEntryDTO, len(recorded))
	for i, e := range recorded {
		dtos[i] = h.advanceDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetScheduledRepayment returns the sum of weekly amounts of the employee's
// ACTIVE advances. ?week defaults to the current payroll week.
func (h *Handler) GetScheduledRepayment(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	week, ok := h.weekParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ScheduledRepaymentDTO{
		EmployeeID: string(emp.ID),
		WeekStart:  generic.FormatDate(week),
		Amount:     h.Advances.ScheduledRepaymentForWeek(emp.ID, week),
	})
}

// GetSettings returns the employee's advance policy (defaults if unset).
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Advances.EmployeeSettings(emp.ID))
}

// UpdateSettings replaces the employee's advance policy.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req settings.AdvanceSettings
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Advances.UpdateEmployeeSettings(r.Context(), emp.ID, req); err != nil {
		h.writeLedgerError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Advances.EmployeeSettings(emp.ID))
}

// GetAdvance returns one advance ledger entry by id.
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	id := generic.EntryID(chi.URLParam(r, "id"))
	entry, ok := h.Advances.Entry(id)
	if !ok {
		h.writeLedgerError(w, "Entry not found", fmt.Errorf("%w: entry %s", generic.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, h.advanceDTO(entry))
}

// GetSchedule projects the remaining installments of an advance.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := generic.EntryID(chi.URLParam(r, "id"))
	schedule, err := h.Advances.RepaymentSchedule(id)
	if err != nil {
		h.writeLedgerError(w, "Failed to build schedule", err)
		return
	}
	dtos := make([]InstallmentDTO, len(schedule))
	for i, s := range schedule {
		dtos[i] = InstallmentDTO{
			WeekStart:      generic.FormatDate(s.WeekStart),
			Amount:         s.Amount,
			RemainingAfter: s.RemainingAfter,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelAdvance, ForgiveAdvance and DefaultAdvance close an ACTIVE advance.
func (h *Handler) CancelAdvance(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.Advances.CancelAdvance)
}

func (h *Handler) ForgiveAdvance(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.Advances.ForgiveAdvance)
}

func (h *Handler) DefaultAdvance(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.Advances.MarkDefaulted)
}

type statusChange func(ctx context.Context, id generic.EntryID, by string) (advance.Entry, error)

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, change statusChange) {
	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_json", err)
		return
	}
	entry, err := change(r.Context(), generic.EntryID(chi.URLParam(r, "id")), req.By)
	if err != nil {
		h.writeLedgerError(w, "Failed to change advance status", err)
		return
	}
	writeJSON(w, http.StatusOK, h.advanceDTO(entry))
}

// DeleteAdvanceEntry removes an advance ledger entry.
func (h *Handler) DeleteAdvanceEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Advances.DeleteEntry(r.Context(), generic.EntryID(chi.URLParam(r, "id"))); err != nil {
		h.writeLedgerError(w, "Failed to delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOverdue returns every overdue advance, most overdue first.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	overdue := h.Advances.AllOverdue(h.Clock())
	dtos := make([]OverdueDTO, len(overdue))
	for i, o := range overdue {
		dtos[i] = toOverdueDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ESCROW HANDLERS
// =============================================================================

// GetEscrow returns the employee's escrow entries, newest first with
// running balances, and the funding position.
func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	entries := h.Escrow.EntriesForEmployee(emp.ID)
	dtos := make([]EscrowEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEscrowEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, EscrowResponse{
		Employee: toEmployeeDTO(emp),
		Entries:  dtos,
		Summary:  toEscrowSummaryDTO(h.Escrow.Summary(emp.ID)),
	})
}

// AddDeposit records an escrow deposit.
func (h *Handler) AddDeposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "deposit", h.Escrow.AddDeposit)
}

// AddWithdrawal records an escrow withdrawal. The balance never goes negative.
func (h *Handler) AddWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "withdrawal", h.Escrow.AddWithdrawal)
}

type escrowMovement func(ctx context.Context, in escrow.MovementInput) (escrow.Entry, error)

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, kind string, record escrowMovement) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req MovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, weekStart, err := parseDates(req.Date, req.WeekStart)
	if err != nil {
		h.writeLedgerError(w, "Invalid date", err)
		return
	}

	entry, err := record(r.Context(), escrow.MovementInput{
		Employee:  emp,
		Date:      date,
		WeekStart: weekStart,
		Amount:    req.Amount,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record "+kind, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowEntryDTO(entry))
}

// GetTarget returns the employee's escrow target.
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TargetDTO{Target: h.Escrow.TargetAmount(emp.ID)})
}

// SetTarget replaces the employee's escrow target.
func (h *Handler) SetTarget(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req TargetDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Escrow.SetTargetAmount(r.Context(), emp.ID, req.Target); err != nil {
		h.writeLedgerError(w, "Failed to set escrow target", err)
		return
	}
	writeJSON(w, http.StatusOK, TargetDTO{Target: h.Escrow.TargetAmount(emp.ID)})
}

// UpdateEscrowNotes replaces the notes of an escrow entry.
func (h *Handler) UpdateEscrowNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.Escrow.UpdateNotes(r.Context(), generic.EntryID(chi.URLParam(r, "id")), req.Notes)
	if err != nil {
		h.writeLedgerError(w, "Failed to update notes", err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowEntryDTO(entry))
}

// DeleteEscrowEntry removes an escrow entry.
func (h *Handler) DeleteEscrowEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Escrow.DeleteEntry(r.Context(), generic.EntryID(chi.URLParam(r, "id"))); err != nil {
		h.writeLedgerError(w, "Failed to delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWeeklyEscrow sums deposits and withdrawals across all employees for
// ?week (default: current payroll week).
func (h *Handler) GetWeeklyEscrow(w http.ResponseWriter, r *http.Request) {
	week, ok := h.weekParam(w, r)
	if !ok {
		return
	}
	totals := h.Escrow.WeeklyTotals(week)
	writeJSON(w, http.StatusOK, WeeklyEscrowDTO{
		WeekStart:   generic.FormatDate(totals.WeekStart),
		Deposits:    totals.Deposits,
		Withdrawals: totals.Withdrawals,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// employee resolves the {id} URL parameter, writing the error response on failure.
func (h *Handler) employee(w http.ResponseWriter, r *http.Request) (generic.Employee, bool) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	emp, err := h.Employees.LookupEmployee(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "Employee not found", err)
		return generic.Employee{}, false
	}
	return emp, true
}

func (h *Handler) weekParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("week")
	if raw == "" {
		return generic.WeekStart(h.Clock()), true
	}
	week, err := parseDate(raw)
	if err != nil {
		h.writeLedgerError(w, "Invalid week", err)
		return time.Time{}, false
	}
	return week, true
}

// advanceDTO attaches the outstanding balance to ADVANCE entries.
func (h *Handler) advanceDTO(e advance.Entry) AdvanceEntryDTO {
	if !e.IsAdvance() {
		return toAdvanceEntryDTO(e, nil)
	}
	outstanding, err := h.Advances.AdvanceBalance(e.ID)
	if err != nil {
		return toAdvanceEntryDTO(e, nil)
	}
	return toAdvanceEntryDTO(e, &outstanding)
}

func parseDate(s string) (time.Time, error) {
	t, err := generic.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", generic.ErrInvalidInput, s)
	}
	return t, nil
}

// parseDates parses optional date and week_start fields; empty stays zero
// so the ledger applies its defaults.
func parseDates(date, weekStart string) (d, ws time.Time, err error) {
	if date != "" {
		if d, err = parseDate(date); err != nil {
			return
		}
	}
	if weekStart != "" {
		ws, err = parseDate(weekStart)
	}
	return
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		code := "invalid_json"
		if errors.Is(err, generic.ErrInvalidAmount) {
			code = generic.Reason(err)
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", code, err)
		return false
	}
	return true
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConcurrentAdvance), generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, generic.ErrInvalidAmount),
		errors.Is(err, generic.ErrInvalidWeeks),
		errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest
	case generic.IsValidation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, generic.Reason(err), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
