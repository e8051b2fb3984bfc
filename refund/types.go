// Package refund implements refund-case tracking on top of the generic
// business-day engine: requirement pauses, segment building, status
// derivation and the case service.
package refund

import (
	"fmt"
	"time"

	"github.com/warp/refund-tracker/generic"
)

// =============================================================================
// REGIME - Statutory budgets
// =============================================================================

// Regime holds the business-day budgets of the refund process.
type Regime struct {
	BudgetDays     int // statutory resolution window
	Req1BudgetDays int // response window for the first requirement
	Req2BudgetDays int // response window for the second requirement
}

// DefaultRegime is the 40/20/10 business-day regime.
var DefaultRegime = Regime{BudgetDays: 40, Req1BudgetDays: 20, Req2BudgetDays: 10}

func (r Regime) ResponseBudget(slot Slot) int {
	if slot == Req2 {
		return r.Req2BudgetDays
	}
	return r.Req1BudgetDays
}

func (r Regime) Validate() error {
	if r.BudgetDays <= 0 || r.Req1BudgetDays <= 0 || r.Req2BudgetDays <= 0 {
		return fmt.Errorf("%w: regime budgets must be positive (got %d/%d/%d)",
			generic.ErrInvalidInput, r.BudgetDays, r.Req1BudgetDays, r.Req2BudgetDays)
	}
	return nil
}

// =============================================================================
// REQUIREMENTS
// =============================================================================

// Slot identifies one of the two requirement slots of a case.
type Slot int

const (
	Req1 Slot = 1
	Req2 Slot = 2
)

func (s Slot) String() string { return fmt.Sprintf("req%d", int(s)) }

func (s Slot) Valid() bool { return s == Req1 || s == Req2 }

// ParseSlot accepts 1, 2, "1", "2", "req1" or "req2".
func ParseSlot(v string) (Slot, error) {
	switch v {
	case "1", "req1":
		return Req1, nil
	case "2", "req2":
		return Req2, nil
	}
	return 0, fmt.Errorf("%w: requirement slot %q (use 1 or 2)", generic.ErrInvalidInput, v)
}

// RequirementState is derived from which dates are present.
type RequirementState string

const (
	RequirementUnused RequirementState = "unused"
	RequirementOpen   RequirementState = "open"
	RequirementClosed RequirementState = "closed"
)

// Requirement is an administrative notice that pauses the statutory clock
// between its notification and its response.
type Requirement struct {
	Slot        Slot
	NotifiedOn  *generic.TimePoint
	RespondedOn *generic.TimePoint
}

// State reports unused/open/closed. A response without a notification is
// reported as closed; Validate rejects it.
func (r Requirement) State() RequirementState {
	switch {
	case r.NotifiedOn == nil && r.RespondedOn == nil:
		return RequirementUnused
	case r.RespondedOn == nil:
		return RequirementOpen
	default:
		return RequirementClosed
	}
}

func (r Requirement) IsOpen() bool { return r.State() == RequirementOpen }

// Validate checks the record on its own: a response needs a notification and
// cannot precede it.
func (r Requirement) Validate() error {
	if r.RespondedOn != nil && r.NotifiedOn == nil {
		return &generic.CheckpointError{Slot: r.Slot.String(), Field: "response", Reason: "response recorded without notification"}
	}
	if r.RespondedOn != nil && r.RespondedOn.Before(*r.NotifiedOn) {
		return &generic.CheckpointError{Slot: r.Slot.String(), Field: "response", Reason: fmt.Sprintf("response %s precedes notification %s", r.RespondedOn, r.NotifiedOn)}
	}
	return nil
}

// =============================================================================
// CASE
// =============================================================================

// StoredStatus is the administrator-settable label, independent of the
// computed status.
type StoredStatus string

const (
	StoredPending   StoredStatus = "pendiente"
	StoredCompleted StoredStatus = "completado"
	StoredCanceled  StoredStatus = "cancelado"
)

func ParseStoredStatus(s string) (StoredStatus, error) {
	switch st := StoredStatus(s); st {
	case StoredPending, StoredCompleted, StoredCanceled:
		return st, nil
	}
	return "", fmt.Errorf("%w: status %q (use pendiente, completado or cancelado)", generic.ErrInvalidInput, s)
}

// Case is one regulatory refund under review. Elapsed and remaining days are
// never stored; they are derived on read.
type Case struct {
	ID                string
	CompanyID         string
	RequestDate       generic.TimePoint
	StatutoryDeadline generic.TimePoint // fixed at creation
	Req1              Requirement
	Req2              Requirement
	StoredStatus      StoredStatus
	Period            string // fiscal period the refund refers to, e.g. "2024-03"
	Amount            generic.Money
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Requirement returns the record for a slot.
func (c *Case) Requirement(slot Slot) *Requirement {
	if slot == Req2 {
		return &c.Req2
	}
	return &c.Req1
}

// Checkpoints returns the inputs the engine reads.
func (c *Case) Checkpoints() Checkpoints {
	return Checkpoints{RequestDate: c.RequestDate, Req1: c.Req1, Req2: c.Req2}
}

// Company is a taxpayer whose refunds are tracked.
type Company struct {
	ID        string
	Name      string
	RFC       string
	CreatedAt time.Time
}

// =============================================================================
// ENGINE INPUTS AND OUTPUTS
// =============================================================================

// Checkpoints is a consistent snapshot of a case's recorded dates.
type Checkpoints struct {
	RequestDate generic.TimePoint
	Req1        Requirement
	Req2        Requirement
}

// StatusLabel is the computed status of a case.
type StatusLabel string

const (
	StatusInProgress StatusLabel = "en_proceso"
	StatusPausedReq1 StatusLabel = "pausado_req1"
	StatusPausedReq2 StatusLabel = "pausado_req2"
	StatusExpired    StatusLabel = "vencido"
)

// ComputedStatus is derived from checkpoints, holidays and the evaluation
// date. It is never stored.
type ComputedStatus struct {
	ElapsedBusinessDays   int
	RemainingBusinessDays int
	IsPaused              bool
	ActivePause           Slot // 0 when not paused
	// DaysLeftToRespond is set only while paused. Negative means the response
	// itself is overdue.
	DaysLeftToRespond *int
	Label             StatusLabel
	Segments          []generic.Period
}
