/*
handlers_test.go - HTTP tests for the refund API

Tests for:
- Company and case creation, validation and lookups
- Requirement lifecycle through the API (issue, respond, conflicts)
- Holiday management and calculator tools
- Error class to status code mapping
- Audit trail actor propagation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/metrics"
	"github.com/warp/refund-tracker/refund"
	"github.com/warp/refund-tracker/store/memory"
)

// testClock lets a test move "today" between calls.
type testClock struct {
	today generic.TimePoint
}

func (c *testClock) Today() generic.TimePoint { return c.today }

func (c *testClock) set(s string) { c.today = generic.MustParseDate(s) }

type testEnv struct {
	router  http.Handler
	handler *Handler
	store   *memory.Store
	clock   *testClock
	alerts  []refund.Alert
}

func newTestEnv(t *testing.T, today string) *testEnv {
	t.Helper()
	env := &testEnv{store: memory.New(), clock: &testClock{}}
	env.clock.set(today)

	svc := &refund.Service{
		Store:    env.store,
		Holidays: env.store,
		Clock:    env.clock,
		Regime:   refund.DefaultRegime,
		Logger:   zap.NewNop(),
		Metrics:  metrics.New(),
		Notifier: refund.NotifierFunc(func(_ context.Context, a refund.Alert) error {
			env.alerts = append(env.alerts, a)
			return nil
		}),
	}
	checker := &refund.AlertChecker{Service: svc, ThresholdDays: 5}
	env.handler = NewHandler(svc, checker, env.store, zap.NewNop())
	env.router = NewRouter(env.handler, Options{Metrics: svc.Metrics})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) createCompany(t *testing.T) CompanyDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/companies", CreateCompanyRequest{Name: "Aceros del Golfo", RFC: "agx010101ab1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CompanyDTO](t, rec)
}

func (e *testEnv) createCase(t *testing.T, companyID, requestDate string) CaseDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/cases", map[string]any{
		"company_id":   companyID,
		"request_date": requestDate,
		"period":       "2024-01",
		"amount":       150000.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CaseDTO](t, rec)
}

// =============================================================================
// COMPANIES
// =============================================================================

func TestCreateCompany(t *testing.T) {
	// GIVEN: An empty store
	env := newTestEnv(t, "2024-02-01")

	// WHEN: A company is registered with a lowercase RFC
	c := env.createCompany(t)

	// THEN: It is stored with the RFC normalized and shows up in the list
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "AGX010101AB1", c.RFC)

	rec := env.do(t, http.MethodGet, "/api/companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]CompanyDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
}

func TestCreateCompany_Validation(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")

	tests := []struct {
		name string
		body CreateCompanyRequest
	}{
		{"missing name", CreateCompanyRequest{RFC: "AGX010101AB1"}},
		{"short rfc", CreateCompanyRequest{Name: "X", RFC: "ABC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/companies", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// =============================================================================
// CASES
// =============================================================================

func TestCreateCase_FixesStatutoryDeadline(t *testing.T) {
	// GIVEN: A company and no holidays
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)

	// WHEN: A case is opened for 2024-01-15
	c := env.createCase(t, co.ID, "2024-01-15")

	// THEN: The deadline is 40 business days later and the clock is running
	assert.Equal(t, "2024-03-11", c.StatutoryDeadline.String())
	assert.Equal(t, "150000.50", c.Amount)
	assert.Equal(t, "MXN", c.Currency)
	assert.Equal(t, "pendiente", c.StoredStatus)
	assert.Equal(t, "en_proceso", c.Status.Label)
	assert.Equal(t, 13, c.Status.ElapsedBusinessDays)
	assert.Equal(t, 27, c.Status.RemainingBusinessDays)
	assert.Equal(t, "unused", c.Req1.State)
}

func TestCreateCase_Errors(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)

	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{"unknown company", map[string]any{"company_id": "nope", "period": "2024-01", "amount": 10}, http.StatusNotFound},
		{"missing period", map[string]any{"company_id": co.ID, "amount": 10}, http.StatusBadRequest},
		{"zero amount", map[string]any{"company_id": co.ID, "period": "2024-01", "amount": 0}, http.StatusBadRequest},
		{"future request date", map[string]any{"company_id": co.ID, "period": "2024-01", "amount": 10, "request_date": "2024-02-02"}, http.StatusBadRequest},
		{"bad date", map[string]any{"company_id": co.ID, "period": "2024-01", "amount": 10, "request_date": "02/01/2024"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"company_id": co.ID, "period": "2024-01", "amount": 10, "extra": true}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/cases", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestGetCase_NotFound(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")

	rec := env.do(t, http.MethodGet, "/api/cases/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestRequirementLifecycle(t *testing.T) {
	// GIVEN: A case opened 2024-01-15
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)
	c := env.createCase(t, co.ID, "2024-01-15")
	base := "/api/cases/" + c.ID

	// WHEN: Requirement 1 is issued on 2024-02-01
	rec := env.do(t, http.MethodPost, base+"/requirements", IssueRequirementRequest{Slot: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[CaseDTO](t, rec)

	// THEN: The clock pauses with the full response budget left
	assert.Equal(t, "pausado_req1", issued.Status.Label)
	require.NotNil(t, issued.Status.ActivePause)
	assert.Equal(t, "req1", *issued.Status.ActivePause)
	require.NotNil(t, issued.Status.DaysLeftToRespond)
	assert.Equal(t, 20, *issued.Status.DaysLeftToRespond)
	require.NotNil(t, issued.ResponseDeadline)
	assert.Equal(t, "2024-02-29", issued.ResponseDeadline.String())
	require.Len(t, env.alerts, 1)
	assert.Equal(t, refund.AlertRequirementIssued, env.alerts[0].Kind)

	// AND: Issuing it again conflicts
	rec = env.do(t, http.MethodPost, base+"/requirements", IssueRequirementRequest{Slot: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: Requirement 2 cannot start while requirement 1 is open
	rec = env.do(t, http.MethodPost, base+"/requirements", IssueRequirementRequest{Slot: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_checkpoint", decode[ErrorResponse](t, rec).Code)

	// AND: Requirement 2 has nothing to answer
	rec = env.do(t, http.MethodPost, base+"/requirements/2/response", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: The response arrives on 2024-02-05 and we look on 2024-02-20
	env.clock.set("2024-02-05")
	rec = env.do(t, http.MethodPost, base+"/requirements/1/response", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env.clock.set("2024-02-20")
	rec = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[CaseDTO](t, rec)

	// THEN: Only the running segments count
	assert.Equal(t, "en_proceso", got.Status.Label)
	assert.Equal(t, 24, got.Status.ElapsedBusinessDays)
	assert.Equal(t, 16, got.Status.RemainingBusinessDays)
	assert.False(t, got.Status.IsPaused)
	assert.Nil(t, got.Status.DaysLeftToRespond)
	assert.Len(t, got.Status.Segments, 2)
	assert.Equal(t, "closed", got.Req1.State)
	assert.Equal(t, "2024-02-05", got.Req1.RespondedOn.String())
}

func TestRecordResponse_Validation(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)
	c := env.createCase(t, co.ID, "2024-01-15")
	base := "/api/cases/" + c.ID
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, base+"/requirements", IssueRequirementRequest{Slot: 1}).Code)

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"future date", base + "/requirements/1/response", RecordResponseRequest{Date: "2024-02-02"}, http.StatusBadRequest},
		{"before notification", base + "/requirements/1/response", RecordResponseRequest{Date: "2024-01-31"}, http.StatusBadRequest},
		{"bad slot", base + "/requirements/3/response", nil, http.StatusBadRequest},
		{"unknown case", "/api/cases/nope/requirements/1/response", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestSetCaseStatus_FiltersList(t *testing.T) {
	// GIVEN: Two cases
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)
	a := env.createCase(t, co.ID, "2024-01-15")
	env.createCase(t, co.ID, "2024-01-20")

	// WHEN: One is marked completed
	rec := env.do(t, http.MethodPut, "/api/cases/"+a.ID+"/status", SetStatusRequest{Status: "completado"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Filtering by stored status returns only the other one
	rec = env.do(t, http.MethodGet, "/api/cases?status=pendiente", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]CaseDTO](t, rec)
	require.Len(t, list, 1)
	assert.NotEqual(t, a.ID, list[0].ID)

	// AND: Unknown statuses are rejected
	rec = env.do(t, http.MethodPut, "/api/cases/"+a.ID+"/status", SetStatusRequest{Status: "archivado"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/cases?status=archivado", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaseAudit_RecordsActor(t *testing.T) {
	// GIVEN: A case created by a named user
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)
	rec := env.do(t, http.MethodPost, "/api/cases", map[string]any{
		"company_id": co.ID, "period": "2024-01", "amount": "500",
	}, "X-Actor-ID", "auditor-7")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[CaseDTO](t, rec)

	// WHEN: A requirement is issued without an actor header
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/cases/"+c.ID+"/requirements", IssueRequirementRequest{Slot: 1}).Code)

	// THEN: The trail lists both, newest first
	rec = env.do(t, http.MethodGet, "/api/cases/"+c.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, string(generic.AuditRequirementIssued), entries[0].Action)
	assert.Equal(t, "system", entries[0].ActorID)
	assert.Equal(t, string(generic.AuditCaseCreated), entries[1].Action)
	assert.Equal(t, "auditor-7", entries[1].ActorID)
}

func TestCalendarFeed(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)
	c := env.createCase(t, co.ID, "2024-01-15")
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/cases/"+c.ID+"/requirements", IssueRequirementRequest{Slot: 1}).Code)

	rec := env.do(t, http.MethodGet, "/api/cases/calendar?company_id="+co.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]refund.CalendarEvent](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, refund.EventCase, events[0].Kind)
	assert.Equal(t, c.ID+"-req1", events[1].ID)
	assert.Nil(t, events[1].End)
}

// =============================================================================
// HOLIDAYS AND TOOLS
// =============================================================================

func TestHolidays_CRUD(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")

	// WHEN: One holiday is added and the 2024 calendar is seeded
	rec := env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-02-14", Name: "Cierre"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[HolidayDTO](t, rec)

	rec = env.do(t, http.MethodPost, "/api/holidays/defaults", DefaultHolidaysRequest{Year: 2024})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The list contains both
	rec = env.do(t, http.MethodGet, "/api/holidays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]HolidayDTO](t, rec)["holidays"]
	assert.Greater(t, len(list), 1)

	// AND: Deleting works once
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/holidays/"+added.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/holidays/"+added.ID, nil).Code)

	// AND: Incomplete input is rejected
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-02-14"}).Code)
}

func TestProjectDeadline_UsesStoredHolidays(t *testing.T) {
	// GIVEN: New Year's Day as a holiday
	env := newTestEnv(t, "2024-02-01")
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-01-01", Name: "Año Nuevo"}).Code)

	// WHEN: Projecting 40 business days from 2024-01-02
	rec := env.do(t, http.MethodPost, "/api/tools/deadline", DeadlineRequest{Start: "2024-01-02"})

	// THEN: The statutory budget is used by default
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[DeadlineResponse](t, rec)
	assert.Equal(t, 40, got.BudgetDays)
	assert.Equal(t, "2024-02-27", got.Deadline.String())

	// AND: Adding a holiday inside the window shifts it by one day
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-02-05", Name: "Constitución"}).Code)
	rec = env.do(t, http.MethodPost, "/api/tools/deadline", DeadlineRequest{Start: "2024-01-02"})
	assert.Equal(t, "2024-02-28", decode[DeadlineResponse](t, rec).Deadline.String())

	// AND: A negative budget is a client error
	negative := -1
	rec = env.do(t, http.MethodPost, "/api/tools/deadline", DeadlineRequest{Start: "2024-01-02", BudgetDays: &negative})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCountBusinessDays(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")

	rec := env.do(t, http.MethodPost, "/api/tools/business-days", BusinessDaysRequest{Start: "2024-02-02", End: "2024-02-09"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[BusinessDaysResponse](t, rec).BusinessDays)

	rec = env.do(t, http.MethodPost, "/api/tools/business-days", BusinessDaysRequest{Start: "2024-02-09", End: "2024-02-02"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "2024-02-01")
	co := env.createCompany(t)
	env.createCase(t, co.ID, "2024-01-15")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "refund_cases_created_total 1")
	assert.Contains(t, rec.Body.String(), `refund_status_derivations_total{label="en_proceso"}`)
}
