/*
Package generic provides the domain-agnostic core of the deadline engine.

PURPOSE:
  Calendar dates, holiday calendars, the business-day counter and the
  deadline projector. Nothing here knows about refunds or requirements;
  the refund package builds on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency (refund amounts)
  - Audit entries: Who changed what, and when

DESIGN PRINCIPLES:
  1. Purity: Counting and projection take every input as a parameter
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Explicit time: "today" is always passed in, never read from a clock

SEE ALSO:
  - time.go: TimePoint and Clock
  - holiday.go: HolidayCalendar and HolidaySet
  - businessday.go: CountBusinessDays and ProjectDeadline
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Refund amounts
// =============================================================================

// Currency is an ISO-4217 code.
type Currency string

const CurrencyMXN Currency = "MXN"

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

// ParseMoney parses a decimal string such as "15230.50". Negative amounts are
// rejected: a refund is always owed to the taxpayer.
func ParseMoney(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: amount %q is not a decimal number", ErrInvalidInput, s)
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("%w: amount %q must not be negative", ErrInvalidInput, s)
	}
	return Money{Value: d, Currency: currency}, nil
}

func (m Money) IsZero() bool   { return m.Value.IsZero() }
func (m Money) String() string { return m.Value.StringFixed(2) + " " + string(m.Currency) }

// =============================================================================
// AUDIT LOG - Tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time // UTC instant
	ActorID   string
	Action    AuditAction
	Table     string
	RecordID  string
	Payload   map[string]any // action-specific data
}

type AuditAction string

const (
	AuditCaseCreated       AuditAction = "case_created"
	AuditRequirementIssued AuditAction = "requirement_issued"
	AuditResponseRecorded  AuditAction = "response_recorded"
	AuditStatusChanged     AuditAction = "status_changed"
	AuditCompanyCreated    AuditAction = "company_created"
	AuditHolidayChanged    AuditAction = "holiday_changed"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	Table    string
	RecordID string
	Actions  []AuditAction
	Limit    int
}
