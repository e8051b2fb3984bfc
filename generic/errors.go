/*
errors.go - Centralized error types for the deadline engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine only classifies failures; the API layer decides how to present
  them.

ERROR CATEGORIES:
  1. Validation errors - Invalid checkpoints or input (client side)
  2. Lifecycle conflicts - Requirement slot already used / not open
  3. Lookup errors - Missing case, company, holiday
  4. Invariant violations - Impossible ranges reaching the counter (internal)

USAGE:
  if errors.Is(err, generic.ErrInvalidCheckpoint) {
      // 400
  }

  var rangeErr *generic.RangeError
  if errors.As(err, &rangeErr) {
      // caller bug, log loudly
  }

SEE ALSO:
  - businessday.go: Returns RangeError and BudgetError
  - refund/segments.go: Returns CheckpointError
  - api/handlers.go: Maps classes to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCheckpoint is returned when a case's recorded dates describe
	// an impossible state (response without notification, req2 before req1
	// is closed, dates out of order).
	ErrInvalidCheckpoint = errors.New("invalid checkpoint state")

	// ErrInvalidRange is returned when the business-day counter gets
	// start > end. Correct segment construction never produces this.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInvalidBudget is returned when a deadline budget is negative.
	ErrInvalidBudget = errors.New("invalid budget: must not be negative")

	// ErrInvalidInput is returned for malformed request data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRequirementIssued is returned when a requirement slot already has
	// a notification date.
	ErrRequirementIssued = errors.New("requirement already issued")

	// ErrRequirementNotOpen is returned when recording a response for a
	// requirement that was never issued or is already answered.
	ErrRequirementNotOpen = errors.New("requirement not open")

	// ErrCaseNotFound is returned when a referenced refund case doesn't exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCompanyNotFound is returned when a referenced company doesn't exist.
	ErrCompanyNotFound = errors.New("company not found")

	// ErrHolidayNotFound is returned when a referenced holiday doesn't exist.
	ErrHolidayNotFound = errors.New("holiday not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CheckpointError describes which checkpoint made a case state invalid.
type CheckpointError struct {
	Slot   string // "request", "req1", "req2", "today"
	Field  string // "notification", "response", ...
	Reason string
}

func (e *CheckpointError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid checkpoint state: %s: %s", e.Slot, e.Reason)
	}
	return fmt.Sprintf("invalid checkpoint state: %s.%s: %s", e.Slot, e.Field, e.Reason)
}

func (e *CheckpointError) Unwrap() error {
	return ErrInvalidCheckpoint
}

// RangeError reports a reversed range handed to the business-day counter.
type RangeError struct {
	Start TimePoint
	End   TimePoint
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range: end %s before start %s", e.End, e.Start)
}

func (e *RangeError) Unwrap() error {
	return ErrInvalidRange
}

// BudgetError reports a negative business-day budget.
type BudgetError struct {
	Budget int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("invalid budget %d: must not be negative", e.Budget)
}

func (e *BudgetError) Unwrap() error {
	return ErrInvalidBudget
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCheckpoint) ||
		errors.Is(err, ErrInvalidBudget) ||
		errors.Is(err, ErrInvalidInput)
}

// IsConflict returns true if the error is a requirement lifecycle conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRequirementIssued) ||
		errors.Is(err, ErrRequirementNotOpen)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrCompanyNotFound) ||
		errors.Is(err, ErrHolidayNotFound)
}

// IsInternal returns true for invariant violations and any error that is not
// a known client, conflict or lookup failure.
func IsInternal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidRange) ||
		!(IsClientError(err) || IsConflict(err) || IsNotFound(err))
}
