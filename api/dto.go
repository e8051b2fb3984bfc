/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATES:
  Calendar dates are YYYY-MM-DD strings (generic.TimePoint marshals itself
  that way). Instants are RFC3339 UTC.

VALIDATION:
  Validation is done in the refund service, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CompanyDTO represents a company in API responses.
type CompanyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RFC       string `json:"rfc,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateCompanyRequest is the request to register a company.
type CreateCompanyRequest struct {
	Name string `json:"name"`
	RFC  string `json:"rfc"`
}

// CaseDTO is a case with its status computed for today.
type CaseDTO struct {
	ID                string             `json:"id"`
	CompanyID         string             `json:"company_id"`
	RequestDate       generic.TimePoint  `json:"request_date"`
	StatutoryDeadline generic.TimePoint  `json:"statutory_deadline"`
	Period            string             `json:"period"`
	Amount            string             `json:"amount"`
	Currency          string             `json:"currency"`
	StoredStatus      string             `json:"stored_status"`
	Req1              RequirementDTO     `json:"req1"`
	Req2              RequirementDTO     `json:"req2"`
	Status            StatusDTO          `json:"status"`
	ResponseDeadline  *generic.TimePoint `json:"response_deadline,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at"`
}

// RequirementDTO is one requirement slot.
type RequirementDTO struct {
	State       string             `json:"state"`
	NotifiedOn  *generic.TimePoint `json:"notified_on"`
	RespondedOn *generic.TimePoint `json:"responded_on"`
}

// StatusDTO is the derived status. Never stored.
type StatusDTO struct {
	ElapsedBusinessDays   int              `json:"elapsed_business_days"`
	RemainingBusinessDays int              `json:"remaining_business_days"`
	IsPaused              bool             `json:"is_paused"`
	ActivePause           *string          `json:"active_pause"`
	DaysLeftToRespond     *int             `json:"days_left_to_respond"`
	Label                 string           `json:"label"`
	Segments              []generic.Period `json:"segments"`
}

// CreateCaseRequest is the request to open a case. request_date defaults to
// today in the configured zone.
type CreateCaseRequest struct {
	CompanyID   string      `json:"company_id"`
	RequestDate string      `json:"request_date,omitempty"`
	Period      string      `json:"period"`
	Amount      json.Number `json:"amount"`
}

// IssueRequirementRequest issues requirement 1 or 2.
type IssueRequirementRequest struct {
	Slot int `json:"slot"`
}

// RecordResponseRequest closes a requirement. date defaults to today.
type RecordResponseRequest struct {
	Date string `json:"date,omitempty"`
}

// SetStatusRequest changes the stored administrator status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// HolidayDTO represents a holiday.
type HolidayDTO struct {
	ID        string            `json:"id"`
	Date      generic.TimePoint `json:"date"`
	Name      string            `json:"name"`
	Recurring bool              `json:"recurring"`
}

// CreateHolidayRequest adds one holiday.
type CreateHolidayRequest struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// DefaultHolidaysRequest seeds the official calendar for a year. Zero means
// the current year.
type DefaultHolidaysRequest struct {
	Year int `json:"year"`
}

// DeadlineRequest projects start + budget business days. budget_days
// defaults to the statutory budget.
type DeadlineRequest struct {
	Start      string `json:"start"`
	BudgetDays *int   `json:"budget_days,omitempty"`
}

type DeadlineResponse struct {
	Start      generic.TimePoint `json:"start"`
	BudgetDays int               `json:"budget_days"`
	Deadline   generic.TimePoint `json:"deadline"`
}

// BusinessDaysRequest counts business days in (start, end].
type BusinessDaysRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type BusinessDaysResponse struct {
	Start        generic.TimePoint `json:"start"`
	End          generic.TimePoint `json:"end"`
	BusinessDays int               `json:"business_days"`
}

// AlertRunResponse summarizes a manual alert pass.
type AlertRunResponse struct {
	Checked int            `json:"checked"`
	Failed  int            `json:"failed"`
	Skipped []string       `json:"skipped"`
	Alerts  []refund.Alert `json:"alerts"`
}

// AuditEntryDTO is one audit log row.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCompanyDTO(c refund.Company) CompanyDTO {
	return CompanyDTO{
		ID:        c.ID,
		Name:      c.Name,
		RFC:       c.RFC,
		CreatedAt: formatInstant(c.CreatedAt),
	}
}

func toCaseDTO(v refund.CaseView) CaseDTO {
	c, st := v.Case, v.Status

	status := StatusDTO{
		ElapsedBusinessDays:   st.ElapsedBusinessDays,
		RemainingBusinessDays: st.RemainingBusinessDays,
		IsPaused:              st.IsPaused,
		DaysLeftToRespond:     st.DaysLeftToRespond,
		Label:                 string(st.Label),
		Segments:              st.Segments,
	}
	if st.IsPaused {
		pause := st.ActivePause.String()
		status.ActivePause = &pause
	}
	if status.Segments == nil {
		status.Segments = []generic.Period{}
	}

	return CaseDTO{
		ID:                c.ID,
		CompanyID:         c.CompanyID,
		RequestDate:       c.RequestDate,
		StatutoryDeadline: c.StatutoryDeadline,
		Period:            c.Period,
		Amount:            c.Amount.Value.StringFixed(2),
		Currency:          string(c.Amount.Currency),
		StoredStatus:      string(c.StoredStatus),
		Req1:              toRequirementDTO(c.Req1),
		Req2:              toRequirementDTO(c.Req2),
		Status:            status,
		ResponseDeadline:  v.ResponseDeadline,
		CreatedAt:         formatInstant(c.CreatedAt),
		UpdatedAt:         formatInstant(c.UpdatedAt),
	}
}

func toRequirementDTO(r refund.Requirement) RequirementDTO {
	return RequirementDTO{
		State:       string(r.State()),
		NotifiedOn:  r.NotifiedOn,
		RespondedOn: r.RespondedOn,
	}
}

func toHolidayDTO(h generic.Holiday) HolidayDTO {
	return HolidayDTO{ID: h.ID, Date: h.Date, Name: h.Name, Recurring: h.Recurring}
}

func toAuditDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: formatInstant(e.Timestamp),
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		Payload:   e.Payload,
	}
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
