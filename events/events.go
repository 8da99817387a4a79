/*
Package events announces committed ledger changes to downstream consumers.

PURPOSE:
  The payroll orchestrator and reporting jobs want to know when an advance
  is created, repaid, or completed and when escrow moves. Ledgers publish an
  Event after a change has been persisted. Publishing is best effort: a
  failed publish is logged and never rolls back the committed change.

IMPLEMENTATIONS:
  - Nop:       Discards events (default)
  - Recorder:  Keeps events in memory (tests)
  - amqp:      RabbitMQ publisher (events/amqp)
*/
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/warp/payroll-ledger/generic"
)

type Type string

const (
	AdvanceCreated       Type = "advance.created"
	AdvanceRepaid        Type = "advance.repaid"
	AdvanceAdjusted      Type = "advance.adjusted"
	AdvanceCompleted     Type = "advance.completed"
	AdvanceStatusChanged Type = "advance.status_changed"
	AdvanceEntryDeleted  Type = "advance.entry_deleted"
	EscrowDeposit        Type = "escrow.deposit"
	EscrowWithdrawal     Type = "escrow.withdrawal"
	EscrowEntryDeleted   Type = "escrow.entry_deleted"
	EscrowCleared        Type = "escrow.cleared"
)

// Event is one committed ledger change.
type Event struct {
	Type       Type               `json:"type"`
	EmployeeID generic.EmployeeID `json:"employee_id,omitempty"`
	EntryID    generic.EntryID    `json:"entry_id,omitempty"`
	AdvanceID  generic.EntryID    `json:"advance_id,omitempty"`
	Amount     generic.Money      `json:"amount"`
	Status     string             `json:"status,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
