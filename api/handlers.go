/*
handlers.go - HTTP API handlers for the refund tracker

PURPOSE:
  Exposes the refund case service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Companies:
    GET    /api/companies                      List companies
    POST   /api/companies                      Register company

  Cases:
    GET    /api/cases                          List cases (?company_id=&status=)
    POST   /api/cases                          Open case
    GET    /api/cases/calendar                 Calendar feed
    GET    /api/cases/{id}                     Case with computed status
    GET    /api/cases/{id}/audit               Audit trail
    PUT    /api/cases/{id}/status              Set stored status
    POST   /api/cases/{id}/requirements        Issue requirement 1 or 2
    POST   /api/cases/{id}/requirements/{slot}/response  Record response

  Holidays:
    GET    /api/holidays                       List holidays
    POST   /api/holidays                       Add holiday
    POST   /api/holidays/defaults              Seed official holidays for a year
    DELETE /api/holidays/{id}                  Remove holiday

  Tools:
    POST   /api/tools/deadline                 Project start + N business days
    POST   /api/tools/business-days            Count business days in (start, end]

  Alerts:
    POST   /api/alerts/run                     Run one alert pass now

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the refund service (validation lives there)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid checkpoints, invalid input
  - 404: Case, company or holiday not found
  - 409: Requirement already issued / not open
  - 500: Internal errors

SECURITY NOTE:
  No authentication. X-Actor-ID is trusted as-is for the audit trail.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ScenarioStore is the storage the demo loader needs to wipe and reseed.
type ScenarioStore interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *refund.Service
	Alerts  *refund.AlertChecker
	Store   ScenarioStore
	Logger  *zap.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler around the service.
func NewHandler(svc *refund.Service, alerts *refund.AlertChecker, store ScenarioStore, logger *zap.Logger) *Handler {
	return &Handler{
		Service: svc,
		Alerts:  alerts,
		Store:   store,
		Logger:  logger.Named("api"),
	}
}

// =============================================================================
// COMPANY HANDLERS
// =============================================================================

func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.Service.ListCompanies(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list companies", err)
		return
	}
	dtos := make([]CompanyDTO, len(companies))
	for i, c := range companies {
		dtos[i] = toCompanyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Service.CreateCompany(r.Context(), refund.NewCompany{Name: req.Name, RFC: req.RFC})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create company", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanyDTO(*c))
}

// =============================================================================
// CASE HANDLERS
// =============================================================================

// ListCases returns cases with status computed for today.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter, err := caseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	views, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list cases", err)
		return
	}
	dtos := make([]CaseDTO, len(views))
	for i, v := range views {
		dtos[i] = toCaseDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := refund.NewCase{CompanyID: req.CompanyID, Period: req.Period, Amount: req.Amount.String()}
	if req.RequestDate != "" {
		d, err := generic.ParseDate(req.RequestDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request_date format (use YYYY-MM-DD)", err)
			return
		}
		in.RequestDate = &d
	}

	v, err := h.Service.CreateCase(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create case", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseDTO(*v))
}

// GetCase recomputes the status from the stored checkpoints on every call.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get case", err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(*v))
}

func (h *Handler) GetCaseAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get audit trail", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	filter, err := caseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	events, err := h.Service.Calendar(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to build calendar", err)
		return
	}
	if events == nil {
		events = []refund.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) SetCaseStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := refund.ParseStoredStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	v, err := h.Service.SetStoredStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(*v))
}

// IssueRequirement records today as the notification date.
func (h *Handler) IssueRequirement(w http.ResponseWriter, r *http.Request) {
	var req IssueRequirementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	slot := refund.Slot(req.Slot)
	if !slot.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid slot (use 1 or 2)", nil)
		return
	}
	v, err := h.Service.IssueRequirement(r.Context(), chi.URLParam(r, "id"), slot)
	if err != nil {
		h.writeServiceError(w, r, "Failed to issue requirement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseDTO(*v))
}

// RecordResponse closes the requirement in {slot}. An empty body means today.
func (h *Handler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	slot, err := refund.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot (use 1 or 2)", err)
		return
	}

	var req RecordResponseRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	var date *generic.TimePoint
	if req.Date != "" {
		d, err := generic.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		date = &d
	}

	v, err := h.Service.RecordResponse(r.Context(), chi.URLParam(r, "id"), slot, date)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record response", err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(*v))
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Service.ListHolidays(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to get holidays", err)
		return
	}
	dtos := make([]HolidayDTO, len(holidays))
	for i, hol := range holidays {
		dtos[i] = toHolidayDTO(hol)
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Date == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	hol, err := h.Service.AddHoliday(r.Context(), date, req.Name, req.Recurring)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolidayDTO(*hol))
}

// AddDefaultHolidays seeds the official non-business days for a year.
func (h *Handler) AddDefaultHolidays(w http.ResponseWriter, r *http.Request) {
	var req DefaultHolidaysRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	if req.Year == 0 {
		req.Year = h.Service.Clock.Today().Year()
	}
	holidays, err := h.Service.SeedDefaultHolidays(r.Context(), req.Year)
	if err != nil {
		h.writeServiceError(w, r, "Failed to add default holidays", err)
		return
	}
	dtos := make([]HolidayDTO, len(holidays))
	for i, hol := range holidays {
		dtos[i] = toHolidayDTO(hol)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"added": len(dtos), "holidays": dtos})
}

func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RemoveHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// TOOLS
// =============================================================================

func (h *Handler) ProjectDeadline(w http.ResponseWriter, r *http.Request) {
	var req DeadlineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := generic.ParseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
		return
	}
	budget := h.Service.Regime.BudgetDays
	if req.BudgetDays != nil {
		budget = *req.BudgetDays
	}
	deadline, err := h.Service.ProjectDeadline(r.Context(), start, budget)
	if err != nil {
		h.writeServiceError(w, r, "Failed to project deadline", err)
		return
	}
	writeJSON(w, http.StatusOK, DeadlineResponse{Start: start, BudgetDays: budget, Deadline: deadline})
}

func (h *Handler) CountBusinessDays(w http.ResponseWriter, r *http.Request) {
	var req BusinessDaysRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := generic.ParseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
		return
	}
	end, err := generic.ParseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end format (use YYYY-MM-DD)", err)
		return
	}
	n, err := h.Service.CountBusinessDays(r.Context(), start, end)
	if err != nil {
		h.writeServiceError(w, r, "Failed to count business days", err)
		return
	}
	writeJSON(w, http.StatusOK, BusinessDaysResponse{Start: start, End: end, BusinessDays: n})
}

// =============================================================================
// ALERTS
// =============================================================================

func (h *Handler) RunAlerts(w http.ResponseWriter, r *http.Request) {
	res, err := h.Alerts.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to run alert check", err)
		return
	}
	alerts := res.Alerts
	if alerts == nil {
		alerts = []refund.Alert{}
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	writeJSON(w, http.StatusOK, AlertRunResponse{Checked: res.Checked, Failed: res.Failed, Skipped: skipped, Alerts: alerts})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the error class to a status code. Internal errors
// are logged and their details withheld.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found", Details: err.Error()})
	case generic.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "conflict", Details: err.Error()})
	case generic.IsInternal(err):
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message, Code: "internal"})
	default:
		resp := ErrorResponse{Error: message, Code: "invalid", Details: err.Error()}
		var cpErr *generic.CheckpointError
		if errors.As(err, &cpErr) {
			resp.Code = "invalid_checkpoint"
		}
		writeJSON(w, http.StatusBadRequest, resp)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func caseFilter(r *http.Request) (refund.CaseFilter, error) {
	q := r.URL.Query()
	filter := refund.CaseFilter{CompanyID: strings.TrimSpace(q.Get("company_id"))}
	if s := q.Get("status"); s != "" {
		status, err := refund.ParseStoredStatus(s)
		if err != nil {
			return filter, err
		}
		filter.StoredStatus = status
	}
	return filter, nil
}

// actorMiddleware tags the request context with X-Actor-ID for the audit log.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get("X-Actor-ID")); actor != "" {
			r = r.WithContext(refund.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
