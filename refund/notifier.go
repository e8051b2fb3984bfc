package refund

import (
	"context"
	"time"

	"github.com/warp/refund-tracker/generic"
)

// AlertKind tells the receiver why an alert was raised.
type AlertKind string

const (
	AlertRequirementIssued AlertKind = "requirement_issued"
	AlertDeadlineNear      AlertKind = "deadline_near"
	AlertDeadlineExpired   AlertKind = "deadline_expired"
	AlertResponseDue       AlertKind = "response_due"
)

// Alert is an outbound event about a case.
type Alert struct {
	Kind                  AlertKind         `json:"kind"`
	CaseID                string            `json:"case_id"`
	CompanyID             string            `json:"company_id,omitempty"`
	Slot                  Slot              `json:"slot,omitempty"`
	Label                 StatusLabel       `json:"label,omitempty"`
	RemainingBusinessDays int               `json:"remaining_business_days"`
	DaysLeftToRespond     *int              `json:"days_left_to_respond,omitempty"`
	Deadline              generic.TimePoint `json:"deadline"`
	Message               string            `json:"message"`
	RaisedAt              time.Time         `json:"raised_at"`
}

// Notifier delivers alerts. Delivery failures are reported to the caller,
// which logs them; they never roll back the write that raised the alert.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert Alert) error

func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error { return f(ctx, alert) }
